// Package parser extracts trading signals from free-form channel messages.
// Signal text is hostile input: formats vary per channel, numbers carry
// thousand separators, sections appear in any order. The parser is lenient
// on layout and strict on the result.
package parser

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalrunner/internal/domain"
)

var (
	sideRe     = regexp.MustCompile(`(?i)\b(LONG|SHORT|BUY|SELL)\b`)
	leverageRe = regexp.MustCompile(`(?i)(?:leverage\s*:?\s*)?(\d+)\s*x(?:\s+cross|\s+isolated)?\b`)

	// Symbol formats in rough order of confidence. Numeric-leading tickers
	// like 0G exist, so the classes allow digits.
	symbolRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([A-Z0-9]{1,10}/USDT?)\b`),
		regexp.MustCompile(`(?i)\b([A-Z0-9]{1,10}-USDT?)\b`),
		regexp.MustCompile(`(?i)\b([A-Z0-9]{2,10}USDT)\b`),
		regexp.MustCompile(`(?i)\b([A-Z0-9]{1,10}PERP)\b`),
		regexp.MustCompile(`(?i)\$([A-Z0-9]{1,10})\b`),
	}

	quoteSuffixRe    = regexp.MustCompile(`(?i)[/\-]?(USDT|USD|PERP)$`)
	priceRe          = regexp.MustCompile(`\d+(?:\.\d+)?`)
	thousandsRe      = regexp.MustCompile(`(\d+),(\d{3})`)
	rangeDashRe      = regexp.MustCompile(`(\d)[-–](\d)`)
	numberedPrefixRe = regexp.MustCompile(`^\d+\s*(?:\)|:|\.(?:\s|$))\s*`)
	linePrefixRe     = regexp.MustCompile(`(?i)^(?:entry|entries|dca\d*|tp|take\s*profit|target|targets|sl|stop\s*loss|stop)\s*\d*\s*[:\-]\s*`)

	// Inline "LONG BTCUSDT @ 45000" style.
	atEntryRe = regexp.MustCompile(`(?i)(LONG|SHORT)\s+([A-Z0-9/\-]+)\s*@\s*([\d.]+)`)

	// Single-line signals put everything on one line, so the line-oriented
	// section scan finds nothing and these pick up the slack.
	inlineEntryRe = regexp.MustCompile(`(?i)\b(?:entry|entries)\s*[:\-]?\s*([\d.,]+(?:\s*[-–]\s*[\d.,]+)?)`)
	inlineTPRe    = regexp.MustCompile(`(?i)\b(?:tp|take\s*profits?|targets?)\s*\d*\s*[:\-]?\s*((?:[\d.,]+[\s,]*)+)`)
	inlineSLRe    = regexp.MustCompile(`(?i)\b(?:sl|stop\s*loss)\s*[:\-]?\s*([\d.,]+)`)
)

// Section headers recognised in multi-line signals. Keys are lowercase.
var sectionKeywords = map[string][]string{
	"entry": {
		"entry zone", "entry zones", "entry price", "entry prices", "entry range",
		"buy zone", "buy area", "entries", "entry", "cmp", "dca",
	},
	"take_profit": {
		"take profits", "take profit", "profit targets", "targets", "target", "tp",
	},
	"stop_loss": {
		"stop losses", "stop loss", "stop price", "stop", "sl",
	},
}

// Parser turns raw message text into validated signals.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With(slog.String("component", "parser"))}
}

// NormalizeSymbol reduces venue-specific symbol spellings to the bare base
// asset: BTC/USDT, BTC-USD, BTCUSDT and BTCPERP all become BTC. Connectors
// re-attach their own quote suffix.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = quoteSuffixRe.ReplaceAllString(s, "")
	return strings.ToUpper(strings.TrimSuffix(s, "/"))
}

// Parse extracts every signal found in the message. Messages containing
// several signals separated by " / " (with surrounding spaces, so symbol
// spellings like BTC/USDT survive) yield one Signal each. A message with no
// parseable signal returns an empty slice and no error; garbage in a signal
// channel is normal, not exceptional.
func (p *Parser) Parse(source, text string) []domain.Signal {
	if strings.Contains(text, " / ") {
		var out []domain.Signal
		for _, part := range strings.Split(text, " / ") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if sig, err := p.parseOne(source, part); err == nil {
				out = append(out, sig)
			}
		}
		if len(out) > 1 {
			return out
		}
	}

	if sig, err := p.parseOne(source, text); err == nil {
		return []domain.Signal{sig}
	}
	p.logger.Debug("no signal in message", slog.String("source", source))
	return nil
}

// parseOne extracts a single signal and validates it.
func (p *Parser) parseOne(source, text string) (domain.Signal, error) {
	text = strings.TrimSpace(text)

	sig := domain.Signal{
		ID:        uuid.New().String(),
		Source:    source,
		RawText:   text,
		CreatedAt: time.Now().UTC(),
	}

	sig.Symbol = extractSymbol(text)
	if sig.Symbol == "" {
		return domain.Signal{}, fmt.Errorf("parser: no symbol: %w", domain.ErrInvalidSignal)
	}

	side, ok := extractSide(text)
	if !ok {
		return domain.Signal{}, fmt.Errorf("parser: no side: %w", domain.ErrInvalidSignal)
	}
	sig.Side = side

	entries := priceLevels(sectionText(text, "entry"))
	if len(entries) == 0 {
		if m := inlineEntryRe.FindStringSubmatch(text); m != nil {
			entries = priceLevels(m[1])
		}
	}
	if len(entries) > 0 {
		// Multiple entry levels are a zone; trade the first stated level.
		sig.Entry = entries[0]
	} else if m := atEntryRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[3], 64); err == nil {
			sig.Entry = v
		}
	}
	// No entry at all means execute at market; Entry stays zero.

	sig.TakeProfit = priceLevels(sectionText(text, "take_profit"))
	if len(sig.TakeProfit) == 0 {
		if m := inlineTPRe.FindStringSubmatch(text); m != nil {
			sig.TakeProfit = priceLevels(m[1])
		}
	}

	stops := priceLevels(sectionText(text, "stop_loss"))
	if len(stops) == 0 {
		if m := inlineSLRe.FindStringSubmatch(text); m != nil {
			stops = priceLevels(m[1])
		}
	}
	if len(stops) > 0 {
		sig.StopLoss = stops[0]
	}

	if m := leverageRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			sig.Leverage = v
		}
	}
	if sig.Leverage < 1 {
		// No stated leverage trades at 1x; the risk config may still
		// raise or cap it per venue.
		sig.Leverage = 1
	}

	if err := p.check(sig); err != nil {
		return domain.Signal{}, err
	}

	p.logger.Info("signal parsed",
		slog.String("source", source),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
		slog.Float64("entry", sig.Entry),
		slog.Int("take_profits", len(sig.TakeProfit)),
	)
	return sig, nil
}

// check enforces the minimum a signal needs before it can be risk-sized.
// Structural price consistency is left to Signal.Validate at execution time,
// after market entries are resolved.
func (p *Parser) check(sig domain.Signal) error {
	if sig.StopLoss <= 0 {
		return fmt.Errorf("parser: %s has no stop-loss: %w", sig.Symbol, domain.ErrInvalidSignal)
	}
	if len(sig.TakeProfit) == 0 {
		return fmt.Errorf("parser: %s has no take-profit: %w", sig.Symbol, domain.ErrInvalidSignal)
	}
	if !sig.MarketEntry() {
		if err := sig.Validate(); err != nil {
			return fmt.Errorf("parser: %w", err)
		}
	}
	return nil
}

func extractSymbol(text string) string {
	for _, re := range symbolRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return NormalizeSymbol(m[1])
		}
	}
	return ""
}

func extractSide(text string) (domain.Side, bool) {
	m := sideRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	switch strings.ToUpper(m[1]) {
	case "LONG", "BUY":
		return domain.SideLong, true
	default:
		return domain.SideShort, true
	}
}

// sectionText returns the body of the named section: the text following one
// of its header keywords, up to the next recognised header or end of message.
func sectionText(text, section string) string {
	lines := strings.Split(text, "\n")
	var body []string
	collecting := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		name, rest := splitHeader(trimmed)
		switch {
		case name == section:
			collecting = true
			if rest != "" {
				body = append(body, rest)
			}
		case name != "":
			collecting = false
		case collecting:
			body = append(body, trimmed)
		}
	}
	return strings.Join(body, "\n")
}

// splitHeader matches a line against the known section headers and returns
// the section name and the remainder after the header, or "" when the line
// is not a header.
func splitHeader(line string) (section, rest string) {
	lower := strings.ToLower(line)
	for name, keywords := range sectionKeywords {
		for _, kw := range keywords {
			if !strings.HasPrefix(lower, kw) {
				continue
			}
			after := strings.TrimSpace(line[len(kw):])
			// A header keyword is followed by a delimiter, a digit or
			// nothing; "stops working" must not match "stop".
			after = strings.TrimLeft(after, ":-–")
			after = strings.TrimSpace(after)
			if after == "" || startsNumericList(after) {
				return name, after
			}
		}
	}
	return "", ""
}

func startsNumericList(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c >= '0' && c <= '9' || c == '$' || c == '.'
}

// priceLevels extracts the positive price values from a section body,
// de-duplicated in order of appearance. Numbered prefixes ("1)", "2:"),
// repeated Entry/TP/SL prefixes, thousand separators and dash ranges are
// stripped first.
func priceLevels(text string) []float64 {
	if text == "" {
		return nil
	}

	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = numberedPrefixRe.ReplaceAllString(line, "")
		line = linePrefixRe.ReplaceAllString(line, "")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	joined := strings.Join(cleaned, " ")

	for thousandsRe.MatchString(joined) {
		joined = thousandsRe.ReplaceAllString(joined, "$1$2")
	}
	joined = rangeDashRe.ReplaceAllString(joined, "$1 $2")

	var out []float64
	seen := make(map[float64]bool)
	for _, loc := range priceRe.FindAllStringIndex(joined, -1) {
		if partOfWord(joined, loc[0], loc[1]) {
			continue
		}
		v, err := strconv.ParseFloat(joined[loc[0]:loc[1]], 64)
		if err != nil || v <= 0 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// partOfWord reports whether the match is embedded in an identifier, like
// the 50 in "MA50".
func partOfWord(s string, start, end int) bool {
	if start > 0 && isAlpha(s[start-1]) {
		return true
	}
	if end < len(s) && isAlpha(s[end]) {
		return true
	}
	return false
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
