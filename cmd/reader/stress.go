// go-nfc
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-nfc.
//
// go-nfc is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-nfc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-nfc; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/ZaparooProject/go-nfc/polling"
)

// ndefOverheadBytes covers the TLV header, the long record header, the
// language code and the terminator of a single text record.
const ndefOverheadBytes = 20

// stressChars mixes 1 to 4 byte UTF-8 sequences so every write crosses
// page boundaries at odd offsets.
//
//nolint:gosmopolitan // non-Latin scripts are the point
var stressChars = []rune(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 -_.:/?#[]@!$&'()*+,;=" +
		"äöüßéèêçñøåæÄÖÜÉÈÇÑØÅÆ" +
		"λμνξπρστφχψωΛΞΠΣΦΨΩ" +
		"жзийклмнпрстуфцчшщЖЗИЙ" +
		"日本語中文한국어" +
		"🎮🕹👾🃏🎲🚀🔥✨" +
		"\u200B\u200D\u00AD",
)

// StressTestResult is the outcome of one card.
type StressTestResult struct {
	UID       string
	CardType  string
	CrashFile string
	Duration  time.Duration
	Passed    int
	Failed    int
	Skipped   bool
	Success   bool
}

// CrashReport is written as JSON when a write, read or verify fails.
type CrashReport struct {
	Timestamp           time.Time  `json:"timestamp"`
	CardUID             string     `json:"card_uid"`
	CardType            string     `json:"card_type"`
	Manufacturer        string     `json:"manufacturer"`
	Operation           string     `json:"operation"`
	Error               string     `json:"error"`
	ExpectedText        string     `json:"expected_text,omitempty"`
	ActualText          string     `json:"actual_text,omitempty"`
	CapabilityContainer string     `json:"capability_container,omitempty"`
	RawDump             []string   `json:"raw_dump,omitempty"`
	OperationLog        []LogEntry `json:"operation_log"`
	DataArea            int        `json:"data_area,omitempty"`
}

// LogEntry is one step of a stress run.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	DataHex   string    `json:"data_hex,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// stressRun holds the per card state of a stress run.
type stressRun struct {
	started  time.Time
	h        *nfc.Handle
	info     *nfc.CardInfo
	out      io.Writer
	result   *StressTestResult
	reportTo string
	cc       []byte
	log      []LogEntry
	dataArea int
}

func (r *stressRun) step(op string, data []byte, err error) error {
	e := LogEntry{Timestamp: time.Now(), Operation: op, Success: err == nil}
	if len(data) > 0 {
		e.DataHex = hex.EncodeToString(data)
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.log = append(r.log, e)
	return err
}

// testSize is the text length class of one write.
type testSize int

const (
	testSizeTiny   testSize = iota // 1 to 4 bytes
	testSizeMedium                 // half the data area
	testSizeFull                   // the whole data area
)

var testSizes = []testSize{testSizeTiny, testSizeMedium, testSizeFull}

func (s testSize) String() string {
	switch s {
	case testSizeTiny:
		return "tiny"
	case testSizeMedium:
		return "medium"
	case testSizeFull:
		return "full"
	default:
		return "unknown"
	}
}

// runStressTestMode writes, reads back and compares text records of three
// sizes on every NTAG presented to the reader.
func runStressTestMode(ctx context.Context, h *nfc.Handle, cfg *config) error {
	out := os.Stdout
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
	_, _ = fmt.Fprintln(out, "NTAG stress test: tiny, medium and full text writes per card")
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))

	session := polling.NewSession(h, cfg.reader.pollingConfig())
	defer func() {
		if err := session.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	var (
		results   []*StressTestResult
		resultsMu syncutil.Mutex
	)
	session.SetOnCardDetected(func(info *nfc.CardInfo) error {
		result := stressCard(ctx, session.Handle(), info, out, cfg.stressDir)
		resultsMu.Lock()
		results = append(results, result)
		resultsMu.Unlock()
		return nil
	})
	session.SetOnCardRemoved(func() {
		resultsMu.Lock()
		printFinalSummary(out, results)
		results = nil
		resultsMu.Unlock()
		_, _ = fmt.Fprintln(out, "Card removed, waiting for the next one...")
	})

	_, _ = fmt.Fprintln(out, "Waiting for card... (Press Ctrl+C to exit)")
	return session.Start(ctx)
}

// stressCard runs the three size classes on one card. Cards other than
// NTAG are skipped.
func stressCard(ctx context.Context, h *nfc.Handle, info *nfc.CardInfo, out io.Writer, dir string) *StressTestResult {
	r := &stressRun{
		started:  time.Now(),
		h:        h,
		info:     info.Copy(),
		out:      out,
		reportTo: dir,
		result:   &StressTestResult{UID: info.UIDHex(), CardType: info.CardType.String()},
	}
	_, _ = fmt.Fprintf(out, "\n[CARD] UID=%s Type=%s Manufacturer=%s\n",
		r.result.UID, r.result.CardType, info.Manufacturer())

	if info.CardType != nfc.CardTypeUltralight {
		_, _ = fmt.Fprintln(out, "  skipped: not an NTAG")
		r.result.Skipped = true
		return r.result
	}
	if err := r.readCapabilityContainer(); err != nil {
		r.fail("capability_container", err, "", "")
		return r.finish()
	}

	maxBytes := max(r.dataArea-ndefOverheadBytes, 1)
	for _, size := range testSizes {
		if ctx.Err() != nil {
			break
		}
		if err := r.runSingleTest(size, maxBytes); err != nil {
			r.result.Failed++
			break
		}
		r.result.Passed++
	}
	return r.finish()
}

func (r *stressRun) readCapabilityContainer() error {
	pages, err := r.h.NTAGReadPage(nfc.TaskAuto, 3)
	if err := r.step("read_cc", pages[:nfc.NTAGPageSize], err); err != nil {
		return err
	}
	r.cc = append([]byte(nil), pages[:nfc.NTAGPageSize]...)
	r.dataArea = int(r.cc[2]) * 8
	if r.cc[0] != 0xE1 || r.dataArea == 0 {
		return fmt.Errorf("%w: capability container % X", nfc.ErrNoNDEF, r.cc)
	}
	_, _ = fmt.Fprintf(r.out, "  capability container % X (data area %d bytes)\n", r.cc, r.dataArea)
	return nil
}

// runSingleTest writes one random text record, reads it back and compares.
func (r *stressRun) runSingleTest(size testSize, maxBytes int) error {
	text := generateTestText(size, maxBytes)
	_, _ = fmt.Fprintf(r.out, "  [%s] write %d bytes... ", size, len(text))

	err := r.h.NTAGWriteNDEF(nfc.TaskAuto, nfc.NewTextMessage(text))
	if r.step("write_"+size.String(), []byte(text), err) != nil {
		_, _ = fmt.Fprintln(r.out, "FAIL")
		r.fail("write_"+size.String(), err, text, "")
		return err
	}
	_, _ = fmt.Fprint(r.out, "read... ")

	msg, err := r.h.NTAGReadNDEF(nfc.TaskAuto)
	if r.step("read_"+size.String(), nil, err) != nil {
		_, _ = fmt.Fprintln(r.out, "FAIL")
		r.fail("read_"+size.String(), err, text, "")
		return err
	}

	got, _ := nfc.MessageText(msg)
	err = verifyText(text, got)
	if r.step("verify_"+size.String(), []byte(got), err) != nil {
		_, _ = fmt.Fprintln(r.out, "FAIL")
		r.fail("verify_"+size.String(), err, text, got)
		return err
	}
	_, _ = fmt.Fprintln(r.out, "OK")
	return nil
}

func verifyText(expected, actual string) error {
	if expected == actual {
		return nil
	}
	return fmt.Errorf("text mismatch: wrote %d bytes, read %d bytes", len(expected), len(actual))
}

func (r *stressRun) finish() *StressTestResult {
	res := r.result
	res.Duration = time.Since(r.started)
	res.Success = !res.Skipped && res.Failed == 0
	status := "PASS"
	if !res.Success {
		status = "FAIL"
	}
	_, _ = fmt.Fprintf(r.out, "  [%s] %s %d/%d passed in %s\n",
		status, res.UID, res.Passed, len(testSizes), res.Duration.Round(100*time.Millisecond))
	return res
}

// fail dumps the card and writes a crash report next to the session log.
func (r *stressRun) fail(op string, err error, expected, actual string) {
	r.result.Failed = max(r.result.Failed, 1)
	report := &CrashReport{
		Timestamp:    time.Now(),
		CardUID:      r.result.UID,
		CardType:     r.result.CardType,
		Manufacturer: r.info.Manufacturer(),
		Operation:    op,
		Error:        err.Error(),
		ExpectedText: expected,
		ActualText:   actual,
		OperationLog: r.log,
		DataArea:     r.dataArea,
	}
	if len(r.cc) > 0 {
		report.CapabilityContainer = formatHexString(r.cc)
	}
	if dump, dumpErr := r.dump(); dumpErr == nil {
		report.RawDump = formatHexDump(dump)
	}

	name, writeErr := writeCrashReport(r.reportTo, report)
	if writeErr != nil {
		_, _ = fmt.Fprintf(r.out, "  [!] failed to write crash report: %v\n", writeErr)
		return
	}
	r.result.CrashFile = name
	_, _ = fmt.Fprintf(r.out, "  crash report: %s\n", name)
}

// dump reads the header pages and the data area.
func (r *stressRun) dump() ([]byte, error) {
	last := 3 + max(r.dataArea/nfc.NTAGPageSize, 1)
	data, err := r.h.NTAGFastReadPage(nfc.TaskAuto, 0, byte(min(last, 0xFF)))
	if err != nil {
		return nil, fmt.Errorf("card dump failed: %w", err)
	}
	return data, nil
}

func generateTestText(size testSize, maxBytes int) string {
	var target int
	switch size {
	case testSizeTiny:
		target = randomInt(1, 4)
	case testSizeMedium:
		target = maxBytes / 2
	case testSizeFull:
		target = maxBytes
	}
	return generateRandomText(min(max(target, 1), maxBytes))
}

// generateRandomText fills up to maxBytes without splitting a rune.
func generateRandomText(maxBytes int) string {
	var b strings.Builder
	b.Grow(maxBytes)
	misses := 0
	for b.Len() < maxBytes && misses < 8 {
		c := stressChars[randomInt(0, len(stressChars)-1)]
		s := string(c)
		if b.Len()+len(s) > maxBytes {
			misses++
			continue
		}
		b.WriteString(s)
	}
	for b.Len() < maxBytes {
		b.WriteByte('x')
	}
	return b.String()
}

// randomInt returns a value in [low, high].
func randomInt(low, high int) int {
	if low >= high {
		return low
	}
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return low + int(binary.BigEndian.Uint32(buf[:])%uint32(high-low+1)) //nolint:gosec // small test range
}

func writeCrashReport(dir string, report *CrashReport) (string, error) {
	name := fmt.Sprintf("stress_crash_%s_%s.json",
		report.CardUID, report.Timestamp.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return path, nil
}

func formatHexString(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// formatHexDump renders data one 4-byte page per line.
func formatHexDump(data []byte) []string {
	lines := make([]string, 0, (len(data)+nfc.NTAGPageSize-1)/nfc.NTAGPageSize)
	for i := 0; i < len(data); i += nfc.NTAGPageSize {
		page := data[i:min(i+nfc.NTAGPageSize, len(data))]
		lines = append(lines, fmt.Sprintf("Page %03d: % X", i/nfc.NTAGPageSize, page))
	}
	return lines
}

func printFinalSummary(out io.Writer, results []*StressTestResult) {
	if len(results) == 0 {
		return
	}
	var pass, fail, skip int
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
	for _, res := range results {
		status := "FAIL"
		switch {
		case res.Skipped:
			status = "SKIP"
			skip++
		case res.Success:
			status = "PASS"
			pass++
		default:
			fail++
		}
		_, _ = fmt.Fprintf(out, "  [%s] %s (%s) %d/%d\n", status, res.UID, res.CardType, res.Passed, len(testSizes))
	}
	_, _ = fmt.Fprintf(out, "Overall: %d PASS, %d FAIL, %d SKIP\n", pass, fail, skip)
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
}
