package provider

import (
	"strings"
	"testing"
)

func TestRedactCard(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"nestpay sale",
			"<CC5Request><Number>4282209004348016</Number><Expires>03/28</Expires><Cvv2Val>358</Cvv2Val></CC5Request>",
			"<CC5Request><Number>4282 20** **** 8016</Number><Expires>***</Expires><Cvv2Val>***</Cvv2Val></CC5Request>",
		},
		{
			"gvps card node",
			"<Card><Number>4282209004348016</Number><ExpireDate>0328</ExpireDate><CVV2>358</CVV2></Card>",
			"<Card><Number>4282 20** **** 8016</Number><ExpireDate>***</ExpireDate><CVV2>***</CVV2></Card>",
		},
		{
			"vpos request",
			"<VposRequest><Pan>4282209004348016</Pan><Expiry>202803</Expiry></VposRequest>",
			"<VposRequest><Pan>4282 20** **** 8016</Pan><Expiry>***</Expiry></VposRequest>",
		},
		{
			"empty card node untouched",
			"<Card><Number></Number><ExpireDate></ExpireDate><CVV2></CVV2></Card>",
			"<Card><Number></Number><ExpireDate></ExpireDate><CVV2></CVV2></Card>",
		},
		{
			"no card fields",
			"<GVPSRequest><Order><OrderID>ORDER-1</OrderID></Order></GVPSRequest>",
			"<GVPSRequest><Order><OrderID>ORDER-1</OrderID></Order></GVPSRequest>",
		},
	}
	for _, tt := range tests {
		got := RedactCard(tt.in)
		if got != tt.want {
			t.Errorf("%s: RedactCard = %q, want %q", tt.name, got, tt.want)
		}
		if strings.Contains(got, "4282209004348016") {
			t.Errorf("%s: clear PAN survived redaction", tt.name)
		}
	}
}
