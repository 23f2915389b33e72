package text

import (
	"strconv"
	"strings"
)

type numberConverter struct {
	ones     []string
	teens    []string
	tens     []string
	ordinals map[string]string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"zero", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
		// Ordinal forms of every word that can end a cardinal. Words not
		// listed take a plain "th".
		ordinals: map[string]string{
			"one":      "first",
			"two":      "second",
			"three":    "third",
			"five":     "fifth",
			"eight":    "eighth",
			"nine":     "ninth",
			"twelve":   "twelfth",
			"twenty":   "twentieth",
			"thirty":   "thirtieth",
			"forty":    "fortieth",
			"fifty":    "fiftieth",
			"sixty":    "sixtieth",
			"seventy":  "seventieth",
			"eighty":   "eightieth",
			"ninety":   "ninetieth",
			"hundred":  "hundredth",
			"thousand": "thousandth",
		},
	}
}

func (nc *numberConverter) convertUnderHundred(num int) string {
	if num < NumberBaseTen {
		return nc.ones[num]
	}

	if num < NumberBaseTwenty {
		return nc.teens[num-NumberBaseTen]
	}

	result := nc.tens[num/NumberBaseTen]
	if num%NumberBaseTen > 0 {
		result += " " + nc.ones[num%NumberBaseTen]
	}

	return result
}

// cardinal spells out 0..MaxNumberForWords. Anything else stays as digits.
func (nc *numberConverter) cardinal(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number < NumberBaseTen {
		return nc.ones[number]
	}

	var parts []string

	thousands := number / NumberBaseThousand
	if thousands > 0 {
		parts = append(parts, nc.ones[thousands]+" thousand")
	}

	hundreds := (number % NumberBaseThousand) / NumberBaseHundred
	if hundreds > 0 {
		parts = append(parts, nc.ones[hundreds]+" hundred")
	}

	remaining := number % NumberBaseHundred
	if remaining > 0 {
		parts = append(parts, nc.convertUnderHundred(remaining))
	}

	return strings.Join(parts, " ")
}

// ordinal spells out the ordinal form, reusing the cardinal and replacing
// its last word. Out-of-range values keep their digits and suffix.
func (nc *numberConverter) ordinal(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number) + ordinalSuffix(number)
	}

	words := strings.Fields(nc.cardinal(number))
	last := words[len(words)-1]

	if irregular, ok := nc.ordinals[last]; ok {
		words[len(words)-1] = irregular
	} else {
		words[len(words)-1] = last + "th"
	}

	return strings.Join(words, " ")
}

func ordinalSuffix(number int) string {
	if number < 0 {
		number = -number
	}

	switch number % NumberBaseHundred {
	case 11, 12, 13:
		return "th"
	}

	switch number % NumberBaseTen {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
