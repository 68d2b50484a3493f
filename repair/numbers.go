package repair

import "strings"

var smallNumbers = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fourty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scales = map[string]int{
	"thousand": 1_000,
	"million":  1_000_000,
}

// ParseNumber converts English number words into an integer. Words may be
// joined by spaces, hyphens or underscores; "and" and a leading "a" are
// ignored. Every other word must be a number word.
func ParseNumber(s string) (int, bool) {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	total, current, seen := 0, 0, false
	for i, w := range words {
		switch {
		case w == "and":
			continue
		case w == "a" && i == 0:
			current = 1
		case w == "hundred":
			if current == 0 {
				current = 1
			}
			current *= 100
			seen = true
		case scales[w] > 0:
			if current == 0 {
				current = 1
			}
			total += current * scales[w]
			current = 0
			seen = true
		default:
			n, ok := smallNumbers[w]
			if !ok {
				return 0, false
			}
			current += n
			seen = true
		}
	}
	if !seen {
		return 0, false
	}
	return total + current, true
}
