package domain

// BatchItem is one proposed absolute stock level, addressed by variant id or SKU.
type BatchItem struct {
	VariantID       string `json:"variant_id,omitempty"`
	SKU             string `json:"sku,omitempty"`
	DesiredQuantity int    `json:"desired_quantity"`
	Note            string `json:"note,omitempty"`
}

// Target returns the identifier the item was addressed by.
func (i BatchItem) Target() string {
	if i.VariantID != "" {
		return i.VariantID
	}
	return i.SKU
}

// ItemStatus is the dry-run classification of an item.
type ItemStatus string

const (
	ItemValid   ItemStatus = "valid"
	ItemWarning ItemStatus = "warning"
	ItemInvalid ItemStatus = "invalid"
)

// ItemOutcome is what happened to an item when the batch was applied.
type ItemOutcome string

const (
	OutcomeApplied   ItemOutcome = "applied"
	OutcomeUnchanged ItemOutcome = "unchanged"
	OutcomeRejected  ItemOutcome = "rejected"
	OutcomeFailed    ItemOutcome = "failed"
)

// BatchItemResult is the per-item report of validate or apply.
type BatchItemResult struct {
	Index            int         `json:"index"`
	VariantID        string      `json:"variant_id,omitempty"`
	SKU              string      `json:"sku,omitempty"`
	ProductID        string      `json:"product_id,omitempty"`
	CurrentQuantity  int         `json:"current_quantity"`
	DesiredQuantity  int         `json:"desired_quantity"`
	Delta            int         `json:"delta"`
	Status           ItemStatus  `json:"status"`
	Messages         []string    `json:"messages,omitempty"`
	Outcome          ItemOutcome `json:"outcome,omitempty"`
	Error            string      `json:"error,omitempty"`
	PreviousQuantity *int        `json:"previous_quantity,omitempty"`
	NewQuantity      *int        `json:"new_quantity,omitempty"`
}

// BatchSummary holds the aggregate counts of a run. Valid includes warnings.
// Successful and Failed are only filled by apply; rejected items count as failed.
type BatchSummary struct {
	Total      int `json:"total"`
	Valid      int `json:"valid"`
	Warnings   int `json:"warnings"`
	Invalid    int `json:"invalid"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchReport is the result of validate (DryRun) or apply.
type BatchReport struct {
	DryRun  bool              `json:"dry_run"`
	Items   []BatchItemResult `json:"items"`
	Summary BatchSummary      `json:"summary"`
}

// Summarize counts item statuses and outcomes.
func Summarize(items []BatchItemResult) BatchSummary {
	s := BatchSummary{Total: len(items)}
	for i := range items {
		switch items[i].Status {
		case ItemInvalid:
			s.Invalid++
		case ItemWarning:
			s.Warnings++
			s.Valid++
		default:
			s.Valid++
		}
		switch items[i].Outcome {
		case OutcomeApplied, OutcomeUnchanged:
			s.Successful++
		case OutcomeRejected, OutcomeFailed:
			s.Failed++
		}
	}
	return s
}
