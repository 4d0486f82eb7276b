package htmlutil

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// HiddenInputs collects every <input type="hidden"> on the page into a
// name -> value map. Inputs without a name are skipped, later duplicates
// overwrite earlier ones (matches browser form serialization).
func HiddenInputs(doc *goquery.Document) map[string]string {
	fields := map[string]string{}
	doc.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		fields[name] = input.AttrOr("value", "")
	})
	return fields
}
