// Package budget declares the cost-center budget and its forecasted
// overspend notification.
package budget

import (
	"fmt"
	"strings"

	"github.com/jaguar-finops/guardrails/tags"
)

// Budget and time unit types accepted by AWS Budgets
const (
	TypeCost    = "COST"
	TimeMonthly = "MONTHLY"
)

// Notification and subscriber enums
const (
	ThresholdPercentage    = "PERCENTAGE"
	ThresholdAbsoluteValue = "ABSOLUTE_VALUE"
	ComparisonGreaterThan  = "GREATER_THAN"
	ComparisonLessThan     = "LESS_THAN"
	ComparisonEqualTo      = "EQUAL_TO"
	NotificationForecasted = "FORECASTED"
	NotificationActual     = "ACTUAL"
	SubscriptionEmail      = "EMAIL"
	SubscriptionSNS        = "SNS"
)

// CostFilterTagKeyValue filters spend by "key$value" tag pairs
const CostFilterTagKeyValue = "TagKeyValue"

const costFilterTagSeparator = "$"

// Defaults of the stock cost-center budget
const (
	DefaultName             = "Jaguar-FINOPS-CC-FINOPS"
	DefaultCostCenter       = "FINOPS"
	DefaultAmount           = 200
	DefaultUnit             = "USD"
	DefaultThresholdPercent = 80
)

// Spend is a monetary amount
type Spend struct {
	Amount float64 `json:"Amount" yaml:"Amount"`
	Unit   string  `json:"Unit" yaml:"Unit"`
}

// Budget is the budget body of an AWS::Budgets::Budget resource
type Budget struct {
	BudgetName  string              `json:"BudgetName" yaml:"BudgetName"`
	BudgetType  string              `json:"BudgetType" yaml:"BudgetType"`
	TimeUnit    string              `json:"TimeUnit" yaml:"TimeUnit"`
	BudgetLimit Spend               `json:"BudgetLimit" yaml:"BudgetLimit"`
	CostFilters map[string][]string `json:"CostFilters,omitempty" yaml:"CostFilters,omitempty"`
}

// Notification triggers an alert relative to the budget limit
type Notification struct {
	NotificationType   string  `json:"NotificationType" yaml:"NotificationType"`
	ComparisonOperator string  `json:"ComparisonOperator" yaml:"ComparisonOperator"`
	Threshold          float64 `json:"Threshold" yaml:"Threshold"`
	ThresholdType      string  `json:"ThresholdType" yaml:"ThresholdType"`
}

// Subscriber receives budget notifications
type Subscriber struct {
	SubscriptionType string `json:"SubscriptionType" yaml:"SubscriptionType"`
	Address          string `json:"Address" yaml:"Address"`
}

// NotificationWithSubscribers pairs one notification with its recipients
type NotificationWithSubscribers struct {
	Notification Notification `json:"Notification" yaml:"Notification"`
	Subscribers  []Subscriber `json:"Subscribers" yaml:"Subscribers"`
}

// Declaration is the full budget declaration
type Declaration struct {
	Budget                       Budget                        `json:"Budget" yaml:"Budget"`
	NotificationsWithSubscribers []NotificationWithSubscribers `json:"NotificationsWithSubscribers" yaml:"NotificationsWithSubscribers"`
}

// Options tune the cost-center budget
type Options struct {
	Name             string
	CostCenter       string
	Amount           float64
	Unit             string
	ThresholdPercent float64
	Subscribers      []Subscriber
}

// DefaultOptions returns the FINOPS cost-center budget settings
func DefaultOptions() Options {
	return Options{
		Name:             DefaultName,
		CostCenter:       DefaultCostCenter,
		Amount:           DefaultAmount,
		Unit:             DefaultUnit,
		ThresholdPercent: DefaultThresholdPercent,
	}
}

// CostCenterBudget declares a monthly cost budget scoped to one
// CostCenter tag value with a single forecasted notification.
func CostCenterBudget(opts Options) (Declaration, error) {
	if err := opts.validate(); err != nil {
		return Declaration{}, err
	}

	subscribers := append([]Subscriber{}, opts.Subscribers...)

	return Declaration{
		Budget: Budget{
			BudgetName:  opts.Name,
			BudgetType:  TypeCost,
			TimeUnit:    TimeMonthly,
			BudgetLimit: Spend{Amount: opts.Amount, Unit: opts.Unit},
			CostFilters: map[string][]string{
				CostFilterTagKeyValue: {TagFilterValue(tags.KeyCostCenter, opts.CostCenter)},
			},
		},
		NotificationsWithSubscribers: []NotificationWithSubscribers{{
			Notification: Notification{
				NotificationType:   NotificationForecasted,
				ComparisonOperator: ComparisonGreaterThan,
				Threshold:          opts.ThresholdPercent,
				ThresholdType:      ThresholdPercentage,
			},
			Subscribers: subscribers,
		}},
	}, nil
}

func (o Options) validate() error {
	if o.Name == "" {
		return fmt.Errorf("budget name is required")
	}
	if o.CostCenter == "" {
		return fmt.Errorf("cost center is required")
	}
	if o.Amount <= 0 {
		return fmt.Errorf("budget amount must be positive (got %v)", o.Amount)
	}
	if o.Unit == "" {
		return fmt.Errorf("budget unit is required")
	}
	if o.ThresholdPercent <= 0 || o.ThresholdPercent > 100 {
		return fmt.Errorf("threshold must be in (0, 100] (got %v)", o.ThresholdPercent)
	}
	for _, s := range o.Subscribers {
		if s.SubscriptionType != SubscriptionEmail && s.SubscriptionType != SubscriptionSNS {
			return fmt.Errorf("subscriber %q: unsupported type %q", s.Address, s.SubscriptionType)
		}
		if s.Address == "" {
			return fmt.Errorf("subscriber address is required")
		}
	}
	return nil
}

// TagFilterValue formats a TagKeyValue cost filter entry, e.g.
// "CostCenter$FINOPS".
func TagFilterValue(key, value string) string {
	return key + costFilterTagSeparator + value
}

// Limit returns the threshold as an absolute amount
func (n Notification) Limit(budgetLimit float64) float64 {
	if n.ThresholdType == ThresholdAbsoluteValue {
		return n.Threshold
	}
	return budgetLimit * n.Threshold / 100
}

// Fires reports whether spend trips the notification. Forecasted
// notifications compare forecast spend, actual ones compare actual spend.
func (n Notification) Fires(actual, forecast, budgetLimit float64) bool {
	spend := actual
	if n.NotificationType == NotificationForecasted {
		spend = forecast
	}
	limit := n.Limit(budgetLimit)

	switch n.ComparisonOperator {
	case ComparisonGreaterThan:
		return spend > limit
	case ComparisonLessThan:
		return spend < limit
	case ComparisonEqualTo:
		return spend == limit
	default:
		return false
	}
}

// Alerts returns the notifications of d that fire for the given spend
func (d Declaration) Alerts(actual, forecast float64) []Notification {
	var out []Notification
	for _, ns := range d.NotificationsWithSubscribers {
		if ns.Notification.Fires(actual, forecast, d.Budget.BudgetLimit.Amount) {
			out = append(out, ns.Notification)
		}
	}
	return out
}

// InScope reports whether a resource with the given tags is attributed
// to the budget. Tag filters match exactly; entries for one key are OR-ed.
func (b Budget) InScope(resourceTags tags.Tags) bool {
	values, ok := b.CostFilters[CostFilterTagKeyValue]
	if !ok {
		return true
	}
	for _, v := range values {
		key, want, found := strings.Cut(v, costFilterTagSeparator)
		if !found {
			continue
		}
		if got, ok := resourceTags[key]; ok && got == want {
			return true
		}
	}
	return false
}
