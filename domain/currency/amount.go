package currency

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/core"
)

var prettyAmounts = buildPrettyAmounts()

func buildPrettyAmounts() []core.Amount {
	amounts := make([]core.Amount, 0, 9*20)
	for order := core.Amount(1); ; order *= 10 {
		for digit := core.Amount(1); digit <= 9; digit++ {
			amount := digit * order
			if amount/order != digit {
				return amounts
			}
			amounts = append(amounts, amount)
		}
		if order > core.Amount(1)<<60 {
			return amounts
		}
	}
}

var decimalPlaces = buildDecimalPlaces()

func buildDecimalPlaces() []core.Amount {
	places := make([]core.Amount, 20)
	places[0] = 1
	for i := 1; i < len(places); i++ {
		places[i] = places[i-1] * 10
	}
	return places
}

// IsDust reports whether an amount is below the dust bar or not a single
// decimal digit times a power of ten.
func IsDust(amount core.Amount) bool {
	i := sort.Search(len(prettyAmounts), func(i int) bool { return prettyAmounts[i] >= amount })
	return i == len(prettyAmounts) || prettyAmounts[i] != amount || amount < 1000000
}

// DecomposeAmount splits an amount into decimal-digit chunks, merging
// chunks below the dust threshold into a single leading dust output.
func DecomposeAmount(amount core.Amount, dustThreshold core.Amount) []core.Amount {
	var decomposed []core.Amount
	var dust core.Amount
	order := core.Amount(1)
	for amount != 0 {
		chunk := (amount % 10) * order
		amount /= 10
		order *= 10
		if chunk == 0 {
			continue
		}
		if chunk < dustThreshold {
			dust += chunk
		} else {
			decomposed = append(decomposed, chunk)
		}
	}
	if dust != 0 {
		decomposed = append([]core.Amount{dust}, decomposed...)
	}
	return decomposed
}

func formatFixedWidth(amount core.Amount, digits int) string {
	s := formatUint(amount)
	if len(s) < digits {
		s = strings.Repeat("0", digits-len(s)) + s
	}
	return s
}

func formatUint(amount core.Amount) string {
	if amount == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for amount != 0 {
		i--
		buf[i] = byte('0' + amount%10)
		amount /= 10
	}
	return string(buf[i:])
}

// FormatAmount renders an atomic amount with thousands separators and the
// currency's decimal point.
func FormatAmount(numberOfDecimalPlaces int, amount core.Amount) string {
	integral := amount / decimalPlaces[numberOfDecimalPlaces]
	fractional := amount - integral*decimalPlaces[numberOfDecimalPlaces]
	var sb strings.Builder
	var groups []string
	for integral >= 1000 {
		groups = append([]string{formatFixedWidth(integral%1000, 3)}, groups...)
		integral /= 1000
	}
	sb.WriteString(formatUint(integral))
	for _, group := range groups {
		sb.WriteString("'")
		sb.WriteString(group)
	}
	if fractional != 0 {
		sb.WriteString(".")
		sb.WriteString(formatFixedWidth(fractional/decimalPlaces[numberOfDecimalPlaces-2], 2))
		fractional %= decimalPlaces[numberOfDecimalPlaces-2]
	}
	if fractional != 0 {
		sb.WriteString("'")
		sb.WriteString(formatFixedWidth(fractional/1000, 3))
		fractional %= 1000
	}
	if fractional != 0 {
		sb.WriteString("'")
		sb.WriteString(formatFixedWidth(fractional, 3))
	}
	return sb.String()
}

// ParseAmount parses a decimal amount string, accepting thousands
// separators, into atomic units.
func ParseAmount(numberOfDecimalPlaces int, str string) (core.Amount, error) {
	str = strings.TrimSpace(str)
	str = strings.ReplaceAll(str, "'", "")

	fractionSize := 0
	if pointIndex := strings.IndexByte(str, '.'); pointIndex >= 0 {
		fractionSize = len(str) - pointIndex - 1
		for fractionSize > numberOfDecimalPlaces && strings.HasSuffix(str, "0") {
			str = str[:len(str)-1]
			fractionSize--
		}
		if fractionSize > numberOfDecimalPlaces {
			return 0, errors.Errorf("too many decimal places in amount %q", str)
		}
		str = str[:pointIndex] + str[pointIndex+1:]
	}
	if str == "" {
		return 0, errors.New("empty amount")
	}
	for i := 0; i < len(str); i++ {
		if str[i] < '0' || str[i] > '9' {
			return 0, errors.Errorf("bad character %q in amount", str[i])
		}
	}
	str += strings.Repeat("0", numberOfDecimalPlaces-fractionSize)
	var amount core.Amount
	for i := 0; i < len(str); i++ {
		digit := core.Amount(str[i] - '0')
		if amount > (^core.Amount(0)-digit)/10 {
			return 0, errors.Errorf("amount %q overflows", str)
		}
		amount = amount*10 + digit
	}
	return amount, nil
}
