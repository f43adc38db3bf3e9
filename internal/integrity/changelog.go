package integrity

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// ChangeLogOptions control change-log rendering.
type ChangeLogOptions struct {
	// Version is written as the items version attribute; the build number.
	Version int64
	// BaseURL is the server web root used to build annotation and diff links.
	// Links are left empty when it is unset.
	BaseURL string
}

// ChangeLogItem is one entry of a change log.
type ChangeLogItem struct {
	Action      string
	File        string
	User        string
	Revision    string
	Date        time.Time
	Annotation  string
	Differences string
	Message     string
}

// ChangeLog is a parsed change-log document.
type ChangeLog struct {
	Version string
	Items   []*ChangeLogItem
}

// ChangeLogItems converts changed snapshot rows to change-log items. Rows
// with a null or zero delta are skipped.
func ChangeLogItems(rows []*SnapshotRow, opts ChangeLogOptions) []*ChangeLogItem {
	var items []*ChangeLogItem
	for _, r := range rows {
		if !r.HasChange() {
			continue
		}
		item := &ChangeLogItem{
			Action:   r.DeltaValue().Action(),
			File:     r.Name,
			User:     r.Author.String,
			Revision: r.Revision,
			Date:     r.Timestamp,
			Message:  r.Description,
		}
		if opts.BaseURL != "" {
			item.Annotation = annotationLink(opts.BaseURL, r)
			if r.OldRevision.Valid && r.OldRevision.String != "" {
				item.Differences = differencesLink(opts.BaseURL, r)
			}
		}
		items = append(items, item)
	}
	return items
}

func annotationLink(base string, r *SnapshotRow) string {
	q := url.Values{}
	q.Set("projectName", r.ConfigPath)
	q.Set("selection", r.MemberID)
	q.Set("revision", r.Revision)
	return base + "/annotate?" + q.Encode()
}

func differencesLink(base string, r *SnapshotRow) string {
	q := url.Values{}
	q.Set("projectName", r.ConfigPath)
	q.Set("selection", r.MemberID)
	q.Set("revision1", r.OldRevision.String)
	q.Set("revision2", r.Revision)
	return base + "/diff?" + q.Encode()
}

// WriteChangeLog renders the changed rows as change-log XML.
func WriteChangeLog(w io.Writer, rows []*SnapshotRow, opts ChangeLogOptions) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	items := doc.CreateElement("changelog").CreateElement("items")
	items.CreateAttr("version", strconv.FormatInt(opts.Version, 10))

	for _, it := range ChangeLogItems(rows, opts) {
		el := items.CreateElement("item")
		el.CreateAttr("action", it.Action)
		el.CreateElement("file").SetText(it.File)
		if it.User != "" {
			el.CreateElement("user").SetText(it.User)
		}
		el.CreateElement("rev").SetText(it.Revision)
		el.CreateElement("date").SetText(it.Date.Format(ServerTimeFormat))
		el.CreateElement("annotation").CreateCData(cdataSafe(it.Annotation))
		el.CreateElement("differences").CreateCData(cdataSafe(it.Differences))
		el.CreateElement("msg").CreateCData(cdataSafe(it.Message))
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("writing change log: %w", err)
	}
	return nil
}

// cdataSafe splits every "]]>" across two adjacent CDATA sections. etree writes
// CDATA content verbatim and reads the sections back as one string.
func cdataSafe(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// ParseChangeLog reads a change log written by WriteChangeLog.
func ParseChangeLog(r io.Reader) (*ChangeLog, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("reading change log: %w", err)
	}
	root := doc.SelectElement("changelog")
	if root == nil {
		return nil, fmt.Errorf("reading change log: missing changelog element")
	}

	cl := &ChangeLog{}
	items := root.SelectElement("items")
	if items == nil {
		return cl, nil
	}
	cl.Version = items.SelectAttrValue("version", "")

	for _, el := range items.SelectElements("item") {
		it := &ChangeLogItem{
			Action:      el.SelectAttrValue("action", ""),
			File:        childText(el, "file"),
			User:        childText(el, "user"),
			Revision:    childText(el, "rev"),
			Annotation:  childText(el, "annotation"),
			Differences: childText(el, "differences"),
			Message:     childText(el, "msg"),
		}
		if date := childText(el, "date"); date != "" {
			t, err := ParseServerTime(date)
			if err != nil {
				return nil, fmt.Errorf("reading change log item %s: %w", it.File, err)
			}
			it.Date = t
		}
		cl.Items = append(cl.Items, it)
	}
	return cl, nil
}

func childText(el *etree.Element, tag string) string {
	child := el.SelectElement(tag)
	if child == nil {
		return ""
	}
	return child.Text()
}
