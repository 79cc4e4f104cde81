package telegram

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/runes-oracle/internal/storage"
)

const maxTopUpRUB = 100000

var (
	errBadAmount   = errors.New("bad amount")
	errBadPublicID = errors.New("bad public id")
	errBadFormat   = errors.New("bad format")
)

// parseRubles reads a top-up amount such as "150" or "150,50"
func parseRubles(text string) (decimal.Decimal, error) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, errBadAmount
	}
	if !amount.IsPositive() || amount.GreaterThan(decimal.NewFromInt(maxTopUpRUB)) {
		return decimal.Zero, errBadAmount
	}
	if amount.Exponent() < -2 {
		return decimal.Zero, errBadAmount
	}
	return amount, nil
}

// parsePublicID reads a single public id
func parsePublicID(text string) (string, error) {
	id := storage.NormalizePublicID(text)
	if !storage.IsPublicID(id) {
		return "", errBadPublicID
	}
	return id, nil
}

// parseAdminCredit reads "<public_id> <amount>"
func parseAdminCredit(text string) (string, int, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return "", 0, errBadFormat
	}

	id, err := parsePublicID(fields[0])
	if err != nil {
		return "", 0, err
	}

	amount, err := strconv.Atoi(fields[1])
	if err != nil || amount <= 0 {
		return "", 0, errBadAmount
	}
	return id, amount, nil
}
