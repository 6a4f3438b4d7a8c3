// Package messages turns a messaging export into a per-day count of
// topic-relevant messages sent by one person.
package messages

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

// DefaultPattern matches the per-thread files of an Instagram-style export.
const DefaultPattern = "message_*.json"

// Record is one message with mis-decoded text already repaired.
type Record struct {
	Sender      string
	TimestampMs int64
	HasTime     bool
	Content     string
	ShareText   string
	ShareOwner  string
	File        string
}

// Date returns the calendar day of the message under a fixed UTC offset.
func (r Record) Date(offset time.Duration) time.Time {
	return series.Day(time.UnixMilli(r.TimestampMs).UTC().Add(offset))
}

type exportFile struct {
	Messages []exportMessage `json:"messages"`
}

type exportMessage struct {
	SenderName  string `json:"sender_name"`
	TimestampMs *int64 `json:"timestamp_ms"`
	Content     string `json:"content"`
	Share       *struct {
		ShareText            string `json:"share_text"`
		OriginalContentOwner string `json:"original_content_owner"`
	} `json:"share"`
}

// DecodeFile parses one export file. Any malformed file is an error.
func DecodeFile(path string) ([]Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var f exportFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse export %s: %w", filepath.Base(path), err)
	}
	out := make([]Record, 0, len(f.Messages))
	for _, m := range f.Messages {
		r := Record{
			Sender:  RepairText(m.SenderName),
			Content: RepairText(m.Content),
			File:    path,
		}
		if m.TimestampMs != nil {
			r.TimestampMs = *m.TimestampMs
			r.HasTime = true
		}
		if m.Share != nil {
			r.ShareText = RepairText(m.Share.ShareText)
			r.ShareOwner = RepairText(m.Share.OriginalContentOwner)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadDir decodes every file under dir whose base name matches pattern.
// Files are visited in lexical order so results are deterministic.
func LoadDir(dir, pattern string) ([]Record, int, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("messages dir: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("messages dir: %s is not a directory", dir)
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk messages dir: %w", err)
	}
	sort.Strings(files)
	var all []Record
	for _, p := range files {
		recs, err := DecodeFile(p)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, recs...)
	}
	return all, len(files), nil
}

// DailyCount is the number of relevant messages on one calendar day.
type DailyCount struct {
	Date  time.Time
	Count int
}

// Stats summarizes one extraction pass.
type Stats struct {
	Messages      int
	FromSender    int
	Relevant      int
	WithoutTime   int
	DistinctDates int
}

// Extractor filters one sender's messages and counts relevant ones per day.
type Extractor struct {
	Sender  string
	Matcher *Matcher
	// Offset is added to UTC before taking the calendar day (no DST).
	Offset time.Duration
}

// Extract returns relevant-message counts per day, ascending by date.
// Days without a relevant message are absent.
func (e *Extractor) Extract(records []Record) ([]DailyCount, Stats) {
	st := Stats{Messages: len(records)}
	byDay := map[time.Time]int{}
	for _, r := range records {
		if r.Sender != e.Sender {
			continue
		}
		st.FromSender++
		if !e.Matcher.Relevant(r.Content, r.ShareText, r.ShareOwner) {
			continue
		}
		if !r.HasTime {
			st.WithoutTime++
			continue
		}
		st.Relevant++
		byDay[r.Date(e.Offset)]++
	}
	out := make([]DailyCount, 0, len(byDay))
	for d, n := range byDay {
		out = append(out, DailyCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	st.DistinctDates = len(out)
	return out, st
}

const countColumn = "message_count"

// WriteDailyCounts persists counts as DATE,message_count.
func WriteDailyCounts(path string, counts []DailyCount) error {
	rows := make([][]string, len(counts))
	for i, c := range counts {
		rows[i] = []string{series.FormatDay(c.Date), strconv.Itoa(c.Count)}
	}
	b, err := utils.EncodeCSV([]string{"DATE", countColumn}, rows)
	if err != nil {
		return fmt.Errorf("encode daily counts: %w", err)
	}
	return utils.SafeWriteFile(path, b)
}

// ReadDailyCounts loads an artifact written by WriteDailyCounts.
func ReadDailyCounts(path string) ([]DailyCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open daily counts: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read daily counts: %w", err)
	}
	if len(recs) == 0 {
		return nil, errors.New("read daily counts: missing header")
	}
	di, ci := -1, -1
	for i, h := range recs[0] {
		switch strings.TrimSpace(h) {
		case "DATE":
			di = i
		case countColumn:
			ci = i
		}
	}
	if di < 0 || ci < 0 {
		return nil, fmt.Errorf("read daily counts: header must contain DATE and %s", countColumn)
	}
	out := make([]DailyCount, 0, len(recs)-1)
	for n, rec := range recs[1:] {
		d, err := series.ParseDay(series.DayLayout, rec[di])
		if err != nil {
			return nil, fmt.Errorf("daily counts row %d: %w", n+2, err)
		}
		c, err := strconv.Atoi(strings.TrimSpace(rec[ci]))
		if err != nil {
			return nil, fmt.Errorf("daily counts row %d: %w", n+2, err)
		}
		out = append(out, DailyCount{Date: d, Count: c})
	}
	return out, nil
}
