// Package text rewrites notification strings into a form a speech engine can
// read aloud: numerals, ordinals and symbols become words.
package text

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords is the largest integer spelled out. Larger values stay digits.
	MaxNumberForWords = 9999
)

const englishPrefix = "en"

// Regex patterns for numeral expansion, listed in precedence order.
const (
	wavesOrdinalPattern = `(?i)(waves\s*\([^)]*\)\s*)(\d+)(st|nd|rd|th)\b`
	ordinalPattern      = `\b(\d+)(st|nd|rd|th)\b`
	timesPrefixPattern  = `(?i)\bx(\d+)\b`
	percentPattern      = `(\d+)%`
	dashTriplePattern   = `\b(\d+)-(\d+)-(\d+)\b`
	dimensionPattern    = `\b(\d+)[xX](\d+)\b`
	timesWordPattern    = `\b(\d+)[xX](?:\s+([A-Za-z])|([A-Z]))`
	integerPattern      = `\b\d+\b`
	parenthesisPattern  = `\(([^()]*)\)`
	aoePattern          = `\bAoE\b`
	whitespacePattern   = `\s+`
)

// Normalizer converts display text into speakable text.
type Normalizer struct {
	wavesOrdinal *regexp.Regexp
	ordinal      *regexp.Regexp
	timesPrefix  *regexp.Regexp
	percent      *regexp.Regexp
	dashTriple   *regexp.Regexp
	dimension    *regexp.Regexp
	timesWord    *regexp.Regexp
	integer      *regexp.Regexp
	parenthesis  *regexp.Regexp
	aoe          *regexp.Regexp
	whitespace   *regexp.Regexp
	symbols      *strings.Replacer
	numbers      *numberConverter
}

// NewNormalizer creates a normalizer with compiled patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		wavesOrdinal: regexp.MustCompile(wavesOrdinalPattern),
		ordinal:      regexp.MustCompile(ordinalPattern),
		timesPrefix:  regexp.MustCompile(timesPrefixPattern),
		percent:      regexp.MustCompile(percentPattern),
		dashTriple:   regexp.MustCompile(dashTriplePattern),
		dimension:    regexp.MustCompile(dimensionPattern),
		timesWord:    regexp.MustCompile(timesWordPattern),
		integer:      regexp.MustCompile(integerPattern),
		parenthesis:  regexp.MustCompile(parenthesisPattern),
		aoe:          regexp.MustCompile(aoePattern),
		whitespace:   regexp.MustCompile(whitespacePattern),
		symbols: strings.NewReplacer(
			"->", " ", "<-", " ", "=>", " ",
			"→", " ", "←", " ", "↑", " ", "↓", " ",
			"⇒", " ", "⇐", " ", "↔", " ",
			"_", " ",
		),
		numbers: newNumberConverter(),
	}
}

// IsEnglish reports whether language denotes an English-family locale.
func IsEnglish(language string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(language)), englishPrefix)
}

// Normalize returns the speakable form of text. Numeral expansion only runs
// for English; the symbol and whitespace pass runs for every language.
func (n *Normalizer) Normalize(text, language string) string {
	if text == "" {
		return text
	}

	result := n.symbols.Replace(text)

	if IsEnglish(language) {
		result = n.aoe.ReplaceAllString(result, "AOE")
		result = strings.ReplaceAll(result, "+", " plus ")
		result = n.parenthesis.ReplaceAllStringFunc(result, func(segment string) string {
			inner := segment[1 : len(segment)-1]

			return "(" + n.expandNumerals(inner) + ")"
		})
		result = n.expandNumerals(result)
	}

	return strings.TrimSpace(n.whitespace.ReplaceAllString(result, " "))
}

// expandNumerals applies the numeral rules in precedence order. Each rule
// consumes its digits, so later rules only see what is left. A number with a
// leading minus sign keeps its digits in every rule.
func (n *Normalizer) expandNumerals(text string) string {
	text = n.wavesOrdinal.ReplaceAllStringFunc(text, func(match string) string {
		groups := n.wavesOrdinal.FindStringSubmatch(match)

		return groups[1] + n.ordinalWord(groups[2], groups[3])
	})

	text = replaceNumerals(n.ordinal, text, func(groups []string, negative bool) string {
		if negative {
			return groups[0]
		}

		return n.ordinalWord(groups[1], groups[2])
	})

	text = n.timesPrefix.ReplaceAllStringFunc(text, func(match string) string {
		groups := n.timesPrefix.FindStringSubmatch(match)

		return "times " + n.cardinalWord(groups[1])
	})

	text = replaceNumerals(n.percent, text, func(groups []string, negative bool) string {
		return n.leadingWord(groups[1], negative) + " percent"
	})

	text = replaceNumerals(n.dashTriple, text, func(groups []string, negative bool) string {
		return n.leadingWord(groups[1], negative) + " dash " +
			n.cardinalWord(groups[2]) + " dash " +
			n.cardinalWord(groups[3])
	})

	text = replaceNumerals(n.dimension, text, func(groups []string, negative bool) string {
		return n.leadingWord(groups[1], negative) + " times " + n.cardinalWord(groups[2])
	})

	text = replaceNumerals(n.timesWord, text, func(groups []string, negative bool) string {
		return n.leadingWord(groups[1], negative) + " times " + groups[2] + groups[3]
	})

	return n.expandIntegers(text)
}

// replaceNumerals rewrites every match of pattern through expand. Group 1
// must be the leading number; negative reports whether a minus sign makes
// it negative.
func replaceNumerals(
	pattern *regexp.Regexp,
	text string,
	expand func(groups []string, negative bool) string,
) string {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var builder strings.Builder

	last := 0

	for _, match := range matches {
		groups := make([]string, len(match)/2)
		for i := range groups {
			if match[2*i] >= 0 {
				groups[i] = text[match[2*i]:match[2*i+1]]
			}
		}

		builder.WriteString(text[last:match[0]])
		builder.WriteString(expand(groups, isNegative(text, match[2])))

		last = match[1]
	}

	builder.WriteString(text[last:])

	return builder.String()
}

// expandIntegers spells out the remaining bare integers. A number written
// with a leading minus sign is negative and stays as digits.
func (n *Normalizer) expandIntegers(text string) string {
	matches := n.integer.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var builder strings.Builder

	last := 0

	for _, match := range matches {
		start, end := match[0], match[1]

		builder.WriteString(text[last:start])

		if isNegative(text, start) {
			builder.WriteString(text[start:end])
		} else {
			builder.WriteString(n.cardinalWord(text[start:end]))
		}

		last = end
	}

	builder.WriteString(text[last:])

	return builder.String()
}

func isNegative(text string, start int) bool {
	if start == 0 || text[start-1] != '-' {
		return false
	}

	if start == 1 {
		return true
	}

	switch text[start-2] {
	case ' ', '\t', '\n', '(':
		return true
	default:
		return false
	}
}

func (n *Normalizer) cardinalWord(digits string) string {
	number, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}

	return n.numbers.cardinal(number)
}

// leadingWord spells out the first number of a rule unless it is negative.
func (n *Normalizer) leadingWord(digits string, negative bool) string {
	if negative {
		return digits
	}

	return n.cardinalWord(digits)
}

// ordinalWord spells out digits as an ordinal. Digits too large to parse
// keep their written suffix.
func (n *Normalizer) ordinalWord(digits, suffix string) string {
	number, err := strconv.Atoi(digits)
	if err != nil {
		return digits + strings.ToLower(suffix)
	}

	return n.numbers.ordinal(number)
}
