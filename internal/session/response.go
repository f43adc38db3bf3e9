package session

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"integrity-scm/internal/integrity"
)

// parsedResponse is a decoded --xmlapi response plus the first message the
// server reported, if any.
type parsedResponse struct {
	resp    *integrity.Response
	message string
	hasExit bool
}

// parseResponse decodes the XML the si client prints with --xmlapi.
func parseResponse(data []byte) (*parsedResponse, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(bytes.TrimSpace(data)); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	root := doc.SelectElement("Response")
	if root == nil {
		return nil, fmt.Errorf("parsing response: missing Response element")
	}

	p := &parsedResponse{resp: &integrity.Response{
		Command: root.SelectAttrValue("command", ""),
	}}

	if el := root.FindElement(".//ExitCode"); el != nil {
		code, err := strconv.Atoi(strings.TrimSpace(el.Text()))
		if err != nil {
			return nil, fmt.Errorf("parsing exit code %q: %w", el.Text(), err)
		}
		p.resp.ExitCode = code
		p.hasExit = true
	}
	if el := root.FindElement(".//Message"); el != nil {
		p.message = strings.TrimSpace(el.Text())
	}
	if el := root.FindElement(".//Result/Field[@name='resultant']/Item"); el != nil {
		p.resp.ResultID = el.SelectAttrValue("id", "")
	} else if el := root.FindElement(".//Result/Item"); el != nil {
		p.resp.ResultID = el.SelectAttrValue("id", "")
	}

	for _, el := range root.FindElements(".//WorkItems/WorkItem") {
		p.resp.WorkItems = append(p.resp.WorkItems, parseWorkItem(el))
	}
	return p, nil
}

func parseWorkItem(el *etree.Element) *integrity.WorkItem {
	wi := &integrity.WorkItem{
		ID:      el.SelectAttrValue("id", ""),
		Context: el.SelectAttrValue("context", ""),
		Fields:  make(map[string]string),
	}
	for _, f := range el.SelectElements("Field") {
		name := f.SelectAttrValue("name", "")
		if name == "" {
			continue
		}
		wi.Fields[name] = fieldValue(f)
	}
	return wi
}

// fieldValue flattens a Field to a string: a Value's text, or the id of an
// Item reference.
func fieldValue(f *etree.Element) string {
	if v := f.SelectElement("Value"); v != nil {
		if item := v.SelectElement("Item"); item != nil {
			return item.SelectAttrValue("id", "")
		}
		return v.Text()
	}
	if item := f.SelectElement("Item"); item != nil {
		return item.SelectAttrValue("id", "")
	}
	return strings.TrimSpace(f.Text())
}
