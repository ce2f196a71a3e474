package annotator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Generic is the fallback profile ID
const Generic = "generic"

// ExpectedColumns lists name fragments that hint at a profile, by role
type ExpectedColumns struct {
	Date        []string `yaml:"date_columns" json:"date_columns"`
	Numeric     []string `yaml:"numeric_columns" json:"numeric_columns"`
	Categorical []string `yaml:"categorical_columns" json:"categorical_columns"`
}

func (e ExpectedColumns) all() []string {
	out := make([]string, 0, len(e.Date)+len(e.Numeric)+len(e.Categorical))
	out = append(out, e.Date...)
	out = append(out, e.Numeric...)
	return append(out, e.Categorical...)
}

// Profile describes one business domain
type Profile struct {
	ID             string          `yaml:"id" json:"id"`
	Name           string          `yaml:"name" json:"name"`
	Description    string          `yaml:"description" json:"description"`
	Expected       ExpectedColumns `yaml:"expected_columns" json:"expected_columns"`
	PrimaryMetrics []string        `yaml:"primary_metrics" json:"primary_metrics"`
	KPIFocus       []string        `yaml:"kpi_focus" json:"kpi_focus"`
	Charts         []string        `yaml:"visualization_preferences" json:"visualization_preferences"`
}

// DefaultProfiles returns the built-in profiles in match order. Generic is last.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID: "sales", Name: "Sales Data", Description: "Sales transactions and revenue data",
			Expected: ExpectedColumns{
				Date:        []string{"date", "timestamp", "month", "year", "period"},
				Numeric:     []string{"sales", "revenue", "amount", "quantity", "price"},
				Categorical: []string{"product", "category", "region", "customer_type"},
			},
			PrimaryMetrics: []string{"sales", "revenue", "amount"},
			KPIFocus:       []string{"total_sales", "average_sales", "growth_rate", "top_products"},
			Charts:         []string{"line", "bar", "pie"},
		},
		{
			ID: "financial", Name: "Financial Data", Description: "Financial statements and metrics",
			Expected: ExpectedColumns{
				Date:        []string{"date", "period", "quarter", "fiscal_year"},
				Numeric:     []string{"revenue", "expenses", "profit", "assets", "liabilities"},
				Categorical: []string{"account_type", "department", "category"},
			},
			PrimaryMetrics: []string{"revenue", "profit", "expenses"},
			KPIFocus:       []string{"total_revenue", "profit_margin", "expense_ratio", "growth_rate"},
			Charts:         []string{"line", "area", "bar"},
		},
		{
			ID: "customer", Name: "Customer Data", Description: "Customer demographics and behavior",
			Expected: ExpectedColumns{
				Date:        []string{"registration_date", "last_purchase", "birth_date"},
				Numeric:     []string{"age", "income", "purchase_amount", "frequency"},
				Categorical: []string{"gender", "location", "segment", "status"},
			},
			PrimaryMetrics: []string{"purchase_amount", "frequency", "age"},
			KPIFocus:       []string{"customer_count", "average_age", "total_purchases", "segments"},
			Charts:         []string{"bar", "scatter"},
		},
		{
			ID: "inventory", Name: "Inventory Data", Description: "Stock levels and inventory management",
			Expected: ExpectedColumns{
				Date:        []string{"date", "last_updated", "reorder_date"},
				Numeric:     []string{"quantity", "cost", "price", "reorder_level"},
				Categorical: []string{"product_id", "category", "supplier", "status"},
			},
			PrimaryMetrics: []string{"quantity", "cost", "price"},
			KPIFocus:       []string{"total_inventory", "low_stock_items", "inventory_value", "turnover"},
			Charts:         []string{"bar", "scatter"},
		},
		{
			ID: "web_analytics", Name: "Web Analytics", Description: "Website traffic and user behavior",
			Expected: ExpectedColumns{
				Date:        []string{"date", "timestamp", "session_start"},
				Numeric:     []string{"page_views", "sessions", "bounce_rate", "duration"},
				Categorical: []string{"source", "medium", "device", "country"},
			},
			PrimaryMetrics: []string{"page_views", "sessions", "bounce_rate"},
			KPIFocus:       []string{"total_sessions", "average_duration", "bounce_rate", "top_sources"},
			Charts:         []string{"line", "pie", "bar"},
		},
		{
			ID: "hr", Name: "HR Data", Description: "Employee and human resources data",
			Expected: ExpectedColumns{
				Date:        []string{"hire_date", "birth_date", "review_date"},
				Numeric:     []string{"salary", "age", "years_experience", "rating"},
				Categorical: []string{"department", "position", "gender", "status"},
			},
			PrimaryMetrics: []string{"salary", "rating", "years_experience"},
			KPIFocus:       []string{"employee_count", "average_salary", "turnover_rate", "satisfaction"},
			Charts:         []string{"bar", "scatter"},
		},
		{
			ID: Generic, Name: "Generic Dataset", Description: "General purpose data analysis",
			KPIFocus: []string{"data_overview", "quality_metrics", "distribution_analysis"},
			Charts:   []string{"bar", "line"},
		},
	}
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads profiles from a YAML file of the form
//
//	profiles:
//	  - id: sales
//	    name: Sales Data
//	    expected_columns: {numeric_columns: [sales]}
//	    primary_metrics: [sales]
//
// A generic profile is appended when the file does not define one.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}
	if len(pf.Profiles) == 0 {
		return nil, fmt.Errorf("profiles file %s defines no profiles", path)
	}

	hasGeneric := false
	for i, p := range pf.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile %d has no id", i)
		}
		if p.ID == Generic {
			hasGeneric = true
		}
	}
	if !hasGeneric {
		defaults := DefaultProfiles()
		pf.Profiles = append(pf.Profiles, defaults[len(defaults)-1])
	}
	return pf.Profiles, nil
}
