package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeeSchedule is the service-fee and minimum-charge table, keyed by lower-case
// ISO currency code.
type FeeSchedule struct {
	PercentBasisPoints        int64                  `yaml:"percent_basis_points"`
	DefaultFixedMinor         int64                  `yaml:"default_fixed_minor"`
	DefaultMinimumChargeMinor int64                  `yaml:"default_minimum_charge_minor"`
	Currencies                map[string]CurrencyFee `yaml:"currencies"`
}

type CurrencyFee struct {
	FixedMinor         *int64 `yaml:"fixed_minor"`
	MinimumChargeMinor *int64 `yaml:"minimum_charge_minor"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		PercentBasisPoints:        250,
		DefaultFixedMinor:         50,
		DefaultMinimumChargeMinor: 50,
		Currencies: map[string]CurrencyFee{
			"usd": {MinimumChargeMinor: int64Ptr(50)},
			"eur": {MinimumChargeMinor: int64Ptr(50)},
			"lkr": {MinimumChargeMinor: int64Ptr(20000)},
		},
	}
}

// LoadFeeSchedule reads a YAML fee schedule. An empty path yields the defaults;
// fields missing from the file keep their default values.
func LoadFeeSchedule(path string) (FeeSchedule, error) {
	schedule := DefaultFeeSchedule()
	if path == "" {
		return schedule, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("read fee schedule %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &schedule); err != nil {
		return FeeSchedule{}, fmt.Errorf("parse fee schedule %s: %w", path, err)
	}
	if schedule.PercentBasisPoints < 0 || schedule.DefaultFixedMinor < 0 {
		return FeeSchedule{}, fmt.Errorf("fee schedule %s: negative fee", path)
	}

	normalized := make(map[string]CurrencyFee, len(schedule.Currencies))
	for code, fee := range schedule.Currencies {
		normalized[strings.ToLower(code)] = fee
	}
	schedule.Currencies = normalized
	return schedule, nil
}

func (f FeeSchedule) FixedFee(currency string) int64 {
	if c, ok := f.Currencies[strings.ToLower(currency)]; ok && c.FixedMinor != nil {
		return *c.FixedMinor
	}
	return f.DefaultFixedMinor
}

func (f FeeSchedule) MinimumCharge(currency string) int64 {
	if c, ok := f.Currencies[strings.ToLower(currency)]; ok && c.MinimumChargeMinor != nil {
		return *c.MinimumChargeMinor
	}
	return f.DefaultMinimumChargeMinor
}

func int64Ptr(v int64) *int64 { return &v }
