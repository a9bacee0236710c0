package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// paySimEpoch anchors PaySim steps, which count hours from the start of the
// simulation.
var paySimEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// PaySimTransaction is one row of the PaySim dataset.
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         float64
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	OldBalanceDest float64
	NewBalanceDest float64
	IsFraud        bool
	IsFlaggedFraud bool
}

// ReadOptions filters the rows loaded from the dataset.
type ReadOptions struct {
	Limit      int
	FraudOnly  bool
	SampleRate float64
}

var requiredColumns = []string{
	"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig",
	"namedest", "oldbalancedest", "newbalancedest", "isfraud", "isflaggedfraud",
}

// readPaySim parses PaySim CSV rows. Malformed rows are skipped.
func readPaySim(r io.Reader, opts ReadOptions) ([]PaySimTransaction, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var out []PaySimTransaction
	sampled := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) < len(header) {
			continue
		}

		isFraud := record[col["isfraud"]] == "1"
		if opts.FraudOnly && !isFraud {
			continue
		}
		if !isFraud && opts.SampleRate < 1.0 {
			sampled++
			if float64(sampled%100)/100.0 >= opts.SampleRate {
				continue
			}
		}

		num := func(name string) float64 {
			v, _ := strconv.ParseFloat(record[col[name]], 64)
			return v
		}
		step, _ := strconv.Atoi(record[col["step"]])

		out = append(out, PaySimTransaction{
			Step:           step,
			Type:           record[col["type"]],
			Amount:         num("amount"),
			NameOrig:       record[col["nameorig"]],
			OldBalanceOrg:  num("oldbalanceorg"),
			NewBalanceOrig: num("newbalanceorig"),
			NameDest:       record[col["namedest"]],
			OldBalanceDest: num("oldbalancedest"),
			NewBalanceDest: num("newbalancedest"),
			IsFraud:        isFraud,
			IsFlaggedFraud: record[col["isflaggedfraud"]] == "1",
		})
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Event converts the row into a ledger event. Row index keeps transaction
// ids unique since PaySim has none.
func (tx PaySimTransaction) Event(row int) *domain.Event {
	return &domain.Event{
		TransactionID: fmt.Sprintf("paysim-%d", row),
		CustomerID:    tx.NameOrig,
		AccountID:     tx.NameOrig + "-acc",
		Amount:        tx.Amount,
		Currency:      "USD",
		Type:          strings.ToLower(tx.Type),
		Channel:       "mobile",
		Timestamp:     paySimEpoch.Add(time.Duration(tx.Step) * time.Hour),
		Attributes: map[string]any{
			"counterparty_id": tx.NameDest,
			"old_balance":     tx.OldBalanceOrg,
			"new_balance":     tx.NewBalanceOrig,
			"account_drained": tx.OldBalanceOrg > 0 && tx.NewBalanceOrig == 0,
		},
	}
}

// Confusion is a binary confusion matrix of alert decisions against labels.
type Confusion struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
}

// Add records one prediction.
func (c *Confusion) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePositives++
	case predicted && !actual:
		c.FalsePositives++
	case !predicted && !actual:
		c.TrueNegatives++
	default:
		c.FalseNegatives++
	}
}

// Precision is the share of alerts that were fraud.
func (c Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is the share of fraud that was alerted.
func (c Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (c Confusion) Accuracy() float64 {
	total := c.TruePositives + c.TrueNegatives + c.FalsePositives + c.FalseNegatives
	return ratio(c.TruePositives+c.TrueNegatives, total)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
