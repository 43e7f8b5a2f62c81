package closing

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"financeiro/backend/internal/domain"
)

// Recognizers are evaluated in order and the first hit wins. A bare "card"
// label counts as credit so the group is charged on the higher-cost fee path.
var (
	debitSignals  = []string{"DEBIT"}
	creditSignals = []string{"CREDIT", "CARTAO", "CARD"}
	pixSignals    = []string{"PIX"}
	cashSignals   = []string{"DINHEIRO", "CASH"}
)

// NormalizePaymentType maps a free-text payment label from the sales system
// onto the fee taxonomy. It never fails; unknown labels become OTHER.
func NormalizePaymentType(rawLabel string, installments int) domain.PaymentType {
	label := foldLabel(rawLabel)
	if label == "" {
		return domain.PaymentOther
	}

	switch {
	case containsAny(label, debitSignals):
		return domain.PaymentDebit
	case containsAny(label, creditSignals):
		if installments > 1 {
			return domain.PaymentCreditInstallment
		}
		return domain.PaymentCreditSingle
	case containsAny(label, pixSignals):
		return domain.PaymentPix
	case containsAny(label, cashSignals):
		return domain.PaymentCash
	default:
		return domain.PaymentOther
	}
}

// NormalizeBrand uppercases and trims a card brand; an empty brand is the
// general brand.
func NormalizeBrand(raw string) string {
	brand := strings.ToUpper(strings.TrimSpace(raw))
	if brand == "" {
		return domain.GeneralBrand
	}
	return brand
}

func NormalizeGroup(group domain.SalesTransactionGroup) domain.NormalizedTransactionItem {
	installments := group.Installments
	if installments < 1 {
		installments = 1
	}
	return domain.NormalizedTransactionItem{
		PaymentType:  NormalizePaymentType(group.PaymentTypeRaw, installments),
		Brand:        NormalizeBrand(group.BrandRaw),
		Installments: installments,
		GrossAmount:  group.GrossAmount,
	}
}

func NormalizeGroups(groups []domain.SalesTransactionGroup) []domain.NormalizedTransactionItem {
	items := make([]domain.NormalizedTransactionItem, 0, len(groups))
	for _, group := range groups {
		items = append(items, NormalizeGroup(group))
	}
	return items
}

// foldLabel strips diacritics so "DÉBITO" and "CARTÃO" match their plain
// spellings.
func foldLabel(raw string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}), norm.NFC)
	folded, _, err := transform.String(t, raw)
	if err != nil {
		folded = raw
	}
	return strings.ToUpper(strings.TrimSpace(folded))
}

func containsAny(label string, signals []string) bool {
	for _, signal := range signals {
		if strings.Contains(label, signal) {
			return true
		}
	}
	return false
}
