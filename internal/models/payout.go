package models

import (
	"github.com/shopspring/decimal"
)

// TicketType enumerates the bet markets with odds and payout rows.
type TicketType string

const (
	TicketWin      TicketType = "win"
	TicketPlace    TicketType = "place"
	TicketQuinella TicketType = "quinella"
	TicketExacta   TicketType = "exacta"
	TicketWide     TicketType = "wide"
	TicketTrio     TicketType = "trio"
)

// ValidTicketType reports whether t names a supported market.
func ValidTicketType(t TicketType) bool {
	switch t {
	case TicketWin, TicketPlace, TicketQuinella, TicketExacta, TicketWide, TicketTrio:
		return true
	}
	return false
}

// PayoutLine is one winning combination for one ticket type.
// Payout is the return on a 100-unit stake.
type PayoutLine struct {
	RaceID      string          `db:"race_id" json:"race_id"`
	TicketType  TicketType      `db:"ticket_type" json:"ticket_type"`
	Combination string          `db:"combination" json:"combination"`
	Payout      decimal.Decimal `db:"payout" json:"payout"`
}

// OddsLine is a pre-race odds row for one horse (or combination) in one
// market.
type OddsLine struct {
	RaceID      string          `db:"race_id" json:"race_id"`
	TicketType  TicketType      `db:"ticket_type" json:"ticket_type"`
	Combination string          `db:"combination" json:"combination"`
	Odds        decimal.Decimal `db:"odds" json:"odds"`
	Popularity  int             `db:"popularity" json:"popularity"`
}
