package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/money"
)

const (
	// DefaultSummaryDays is the window used when a summary does not set one.
	DefaultSummaryDays = 10
	// MaxSummaryDays caps the summary window.
	MaxSummaryDays = 90
)

const dayLayout = "2006-01-02"

// DaySummary aggregates the completed entries of one UTC calendar day.
type DaySummary struct {
	Date     string       `json:"date"`
	Spent    money.Amount `json:"spent"`
	Received money.Amount `json:"received"`
	Count    int          `json:"count"`
}

// Summary is the spending and income of an account over its last Days days,
// oldest day first. PeakDay is the day with the most spending, empty when
// nothing was spent.
type Summary struct {
	AccountID     string       `json:"account_id"`
	Days          []DaySummary `json:"days"`
	TotalSpent    money.Amount `json:"total_spent"`
	TotalReceived money.Amount `json:"total_received"`
	Net           money.Amount `json:"net"`
	AverageSpent  money.Amount `json:"average_spent"`
	ActiveDays    int          `json:"active_days"`
	PeakDay       string       `json:"peak_day,omitempty"`
}

// Summary walks the account history back to the start of the window and
// buckets completed entries per day. Debits count as spending and credits as
// income.
func (s *Service) Summary(ctx context.Context, accountID string, days int) (Summary, error) {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	if days > MaxSummaryDays {
		days = MaxSummaryDays
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	out := Summary{AccountID: accountID, Days: make([]DaySummary, days)}
	index := make(map[string]int, days)
	for i := range out.Days {
		date := start.AddDate(0, 0, i).Format(dayLayout)
		out.Days[i].Date = date
		index[date] = i
	}

	var cursor ledger.Cursor
	for {
		entries, err := s.store.History(ctx, accountID, ledger.HistoryQuery{Limit: ledger.MaxHistoryLimit, Before: cursor})
		if err != nil {
			return Summary{}, err
		}
		for _, e := range entries {
			if e.CreatedAt.Before(start) {
				return out.finish()
			}
			i, ok := index[e.CreatedAt.UTC().Format(dayLayout)]
			if !ok || e.Status != ledger.EntryStatusCompleted {
				continue
			}
			if err := out.Days[i].add(e); err != nil {
				return Summary{}, fmt.Errorf("summary %s: %w", accountID, err)
			}
		}
		if len(entries) < ledger.MaxHistoryLimit {
			return out.finish()
		}
		cursor = ledger.CursorOf(entries[len(entries)-1])
	}
}

func (d *DaySummary) add(e ledger.Entry) error {
	var err error
	switch e.Direction {
	case ledger.DirectionDebit:
		d.Spent, err = d.Spent.Add(e.Amount)
	case ledger.DirectionCredit:
		d.Received, err = d.Received.Add(e.Amount)
	}
	if err != nil {
		return err
	}
	d.Count++
	return nil
}

func (s Summary) finish() (Summary, error) {
	var (
		err  error
		peak money.Amount
	)
	for _, d := range s.Days {
		if s.TotalSpent, err = s.TotalSpent.Add(d.Spent); err != nil {
			return Summary{}, err
		}
		if s.TotalReceived, err = s.TotalReceived.Add(d.Received); err != nil {
			return Summary{}, err
		}
		if d.Spent > 0 {
			s.ActiveDays++
		}
		if d.Spent > peak {
			peak = d.Spent
			s.PeakDay = d.Date
		}
	}
	if s.Net, err = s.TotalReceived.Sub(s.TotalSpent); err != nil {
		return Summary{}, err
	}
	s.AverageSpent = s.TotalSpent / money.Amount(len(s.Days))
	return s, nil
}
