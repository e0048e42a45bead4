// Package holdings locates a fund's periodic portfolio filing, extracts
// the embedded NPORT document and parses it into holding records.
package holdings

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// attrValue captures identifier elements of the form <isin value="..."/>.
type attrValue struct {
	Value string `xml:"value,attr"`
}

type seriesClassInfo struct {
	SeriesID string `xml:"seriesId"`
	ClassID  string `xml:"classId"`
}

// Investment is one raw holding record from the filing.
type Investment struct {
	Name        string `xml:"name"`
	Title       string `xml:"title"`
	CUSIP       string `xml:"cusip"`
	PctVal      string `xml:"pctVal"`
	Identifiers struct {
		ISIN  attrValue `xml:"isin"`
		CUSIP attrValue `xml:"cusip"`
	} `xml:"identifiers"`
}

// Document is a parsed NPORT submission. Element matching is by local
// name, so namespace prefixes in the source are irrelevant.
type Document struct {
	XMLName           xml.Name          `xml:"edgarSubmission"`
	HeaderSeriesClass []seriesClassInfo `xml:"headerData>filerInfo>seriesClassInfo"`
	GenInfo           struct {
		SeriesName string `xml:"seriesName"`
		SeriesID   string `xml:"seriesId"`
		ClassName  string `xml:"className"`
		ClassID    string `xml:"classId"`
	} `xml:"formData>genInfo"`
	Investments []Investment `xml:"formData>invstOrSecs>invstOrSec"`
}

// SeriesName returns the fund series display name, if present.
func (d *Document) SeriesName() string {
	return strings.TrimSpace(d.GenInfo.SeriesName)
}

// ClassName returns the share class display name, if present.
func (d *Document) ClassName() string {
	return strings.TrimSpace(d.GenInfo.ClassName)
}

// MatchesTarget reports whether the document covers the given series
// and class identifiers. Empty targets always match.
func (d *Document) MatchesTarget(seriesID, classID string) bool {
	if seriesID == "" && classID == "" {
		return true
	}

	seriesIDs := make(map[string]bool)
	classIDs := make(map[string]bool)
	for _, info := range d.HeaderSeriesClass {
		if s := strings.TrimSpace(info.SeriesID); s != "" {
			seriesIDs[s] = true
		}
		if c := strings.TrimSpace(info.ClassID); c != "" {
			classIDs[c] = true
		}
	}
	if s := strings.TrimSpace(d.GenInfo.SeriesID); s != "" {
		seriesIDs[s] = true
	}
	if c := strings.TrimSpace(d.GenInfo.ClassID); c != "" {
		classIDs[c] = true
	}

	if seriesID != "" && !seriesIDs[seriesID] {
		return false
	}
	if classID != "" && !classIDs[classID] {
		return false
	}
	return true
}

// ExtractPayload locates the NPORT XML embedded in a full submission
// text file. The payload sits between literal <XML> and </XML> markers;
// a submission can carry several such blocks, so the one holding an
// edgarSubmission document is selected.
func ExtractPayload(submissionText string) (string, error) {
	sections := strings.Split(submissionText, "<XML>")
	for _, section := range sections[1:] {
		end := strings.Index(section, "</XML>")
		if end < 0 {
			continue
		}
		candidate := strings.TrimSpace(section[:end])
		if strings.HasPrefix(candidate, "<?xml") && strings.Contains(candidate, "<edgarSubmission") {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no edgarSubmission XML payload found in filing")
}

// ParseDocument parses an extracted XML payload.
func ParseDocument(payload string) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse filing document: %w", err)
	}
	return &doc, nil
}

// NormalizeWeight clamps a weight into [0,1]: values above 1 are
// interpreted as percentages and divided by 100.
func NormalizeWeight(w float64) float64 {
	if w > 1 {
		return w / 100
	}
	return w
}
