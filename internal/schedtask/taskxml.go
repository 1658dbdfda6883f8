package schedtask

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Helpers for the task scheduler's XML task definition. The definition is
// exported, modified textually and re-registered: round-tripping the whole
// document through a struct would silently drop the fields we do not model,
// so edits are spliced into the original text instead.

// startBoundaries extracts the time-of-day of every trigger StartBoundary
// in a task definition. Boundaries look like "2026-01-01T07:00:00"; the date
// part is ignored because the triggers recur daily.
func startBoundaries(taskXML string) ([]TimeOfDay, error) {
	dec := xml.NewDecoder(strings.NewReader(taskXML))
	// Exported definitions declare encoding="UTF-16" even after the text
	// has been captured as regular bytes; the content is already decoded.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	var times []TimeOfDay
	var inBoundary bool

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inBoundary = t.Name.Local == "StartBoundary"
		case xml.EndElement:
			inBoundary = false
		case xml.CharData:
			if !inBoundary {
				continue
			}
			tod, err := parseBoundary(string(t))
			if err != nil {
				return nil, err
			}
			times = append(times, tod)
		}
	}
	return times, nil
}

func parseBoundary(boundary string) (TimeOfDay, error) {
	boundary = strings.TrimSpace(boundary)
	i := strings.IndexByte(boundary, 'T')
	if i < 0 || len(boundary) < i+6 {
		return TimeOfDay{}, fmt.Errorf("malformed StartBoundary %q", boundary)
	}
	clock := boundary[i+1:]

	hour, err1 := strconv.Atoi(clock[0:2])
	minute, err2 := strconv.Atoi(clock[3:5])
	if err1 != nil || err2 != nil || clock[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("malformed StartBoundary %q", boundary)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// addCalendarTriggers splices one daily CalendarTrigger per time into the
// task definition, ahead of the closing Triggers tag. Existing triggers are
// untouched.
func addCalendarTriggers(taskXML string, times []TimeOfDay) (string, error) {
	idx := strings.Index(taskXML, "</Triggers>")
	if idx < 0 {
		return "", errors.New("task definition has no Triggers element")
	}

	var sb strings.Builder
	for _, t := range times {
		fmt.Fprintf(&sb, "    <CalendarTrigger>\n")
		fmt.Fprintf(&sb, "      <StartBoundary>2000-01-01T%02d:%02d:00</StartBoundary>\n", t.Hour, t.Minute)
		fmt.Fprintf(&sb, "      <Enabled>true</Enabled>\n")
		fmt.Fprintf(&sb, "      <ScheduleByDay>\n")
		fmt.Fprintf(&sb, "        <DaysInterval>1</DaysInterval>\n")
		fmt.Fprintf(&sb, "      </ScheduleByDay>\n")
		fmt.Fprintf(&sb, "    </CalendarTrigger>\n")
	}
	return taskXML[:idx] + sb.String() + taskXML[idx:], nil
}

// forceIgnoreNew sets MultipleInstancesPolicy to IgnoreNew, inserting the
// element into Settings when absent.
func forceIgnoreNew(taskXML string) (string, error) {
	const openTag = "<MultipleInstancesPolicy>"
	const closeTag = "</MultipleInstancesPolicy>"

	if start := strings.Index(taskXML, openTag); start >= 0 {
		end := strings.Index(taskXML, closeTag)
		if end < start {
			return "", errors.New("malformed MultipleInstancesPolicy element")
		}
		return taskXML[:start+len(openTag)] + "IgnoreNew" + taskXML[end:], nil
	}

	idx := strings.Index(taskXML, "</Settings>")
	if idx < 0 {
		return "", errors.New("task definition has no Settings element")
	}
	return taskXML[:idx] + "    " + openTag + "IgnoreNew" + closeTag + "\n  " + taskXML[idx:], nil
}
