// Package codec contains the wire-format helpers shared by the acquirer
// adapters: ordered XML documents, ordered form encoding, the iyzico
// PKI-string serializer and PAN masking. Field order and character encoding
// are part of the bank contracts, so documents are serialized by hand instead
// of through struct marshaling.
package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/metinweb/ors-payment-service/payerr"
)

// XMLNode is one element of an ordered XML tree. A node carries either Text
// or Children; banks do not mix the two.
type XMLNode struct {
	Tag      string
	Text     string
	Children []*XMLNode
}

// NewXMLNode creates an element node.
func NewXMLNode(tag string) *XMLNode {
	return &XMLNode{Tag: tag}
}

// Add appends a text child element and returns the parent for chaining.
func (n *XMLNode) Add(tag, text string) *XMLNode {
	n.Children = append(n.Children, &XMLNode{Tag: tag, Text: text})
	return n
}

// AddNode appends child and returns the parent for chaining.
func (n *XMLNode) AddNode(child *XMLNode) *XMLNode {
	n.Children = append(n.Children, child)
	return n
}

// Child returns the first direct child with the given tag, or nil.
func (n *XMLNode) Child(tag string) *XMLNode {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Find descends the tree along path and returns the node, or nil.
func (n *XMLNode) Find(path ...string) *XMLNode {
	cur := n
	for _, tag := range path {
		if cur = cur.Child(tag); cur == nil {
			return nil
		}
	}
	return cur
}

// TextOf returns the text of the node at path, or "" when absent.
func (n *XMLNode) TextOf(path ...string) string {
	if node := n.Find(path...); node != nil {
		return node.Text
	}
	return ""
}

// BuildXML serializes root with an XML declaration carrying the given
// encoding name. When the encoding is ISO-8859-9 the byte output is
// transcoded accordingly; everything else is emitted as UTF-8.
func BuildXML(root *XMLNode, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="%s"?>`, encoding)
	if err := writeNode(&buf, root); err != nil {
		return nil, err
	}

	if strings.EqualFold(encoding, "ISO-8859-9") {
		out, err := charmap.ISO8859_9.NewEncoder().Bytes(buf.Bytes())
		if err != nil {
			return nil, payerr.Wrap(payerr.KindCrypto, "iso-8859-9 encode failed", err)
		}
		return out, nil
	}
	return buf.Bytes(), nil
}

func writeNode(w *bytes.Buffer, n *XMLNode) error {
	fmt.Fprintf(w, "<%s>", n.Tag)
	if len(n.Children) > 0 {
		for _, c := range n.Children {
			if err := writeNode(w, c); err != nil {
				return err
			}
		}
	} else if n.Text != "" {
		if err := xml.EscapeText(w, []byte(n.Text)); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "</%s>", n.Tag)
	return nil
}

// ParseXML reads an XML document into an ordered node tree. Declared
// single-byte charsets (the banks use ISO-8859-9) are honored.
func ParseXML(data []byte) (*XMLNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "iso-8859-9", "windows-1254":
			return charmap.ISO8859_9.NewDecoder().Reader(input), nil
		case "iso-8859-1":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		default:
			return input, nil
		}
	}

	var root *XMLNode
	var stack []*XMLNode
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, payerr.Wrap(payerr.KindProvider, "malformed xml response", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &XMLNode{Tag: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if root == nil {
		return nil, payerr.New(payerr.KindProvider, "empty xml response")
	}
	return root, nil
}
