package storage

import "time"

// Account is one subscriber and their balance of limits
type Account struct {
	UserID         int64
	PublicID       string // PREFIX-XXXXXX, immutable
	FirstSeen      time.Time
	Limits         int
	LastCreditedAt *time.Time
}

// UsageRecord is one completed paid draw (divinations table)
type UsageRecord struct {
	ID     int64
	UserID int64
	Date   time.Time
	Kind   string
}

// Credit ties a balance increase to the payment or admin action that caused it
type Credit struct {
	Ref       string
	UserID    int64
	Amount    int
	Source    string
	CreatedAt time.Time
}

// LegacySubscriber is a row of the old subscribers.csv file
type LegacySubscriber struct {
	UserID    int64
	FirstSeen string
}

// Stats is a snapshot for the admin
type Stats struct {
	Subscribers    int
	DivinationsDay int
	DivinationsAll int
	CreditedLimits int
}

// Credit sources
const (
	SourcePayment = "payment"
	SourceAdmin   = "admin"
)
