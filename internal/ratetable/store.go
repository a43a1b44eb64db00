package ratetable

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mapato/taxcore/internal/config"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed defaults.yaml
var defaultTables []byte

// Store resolves the published rate table for a tax year. Tables are read
// once at startup, there is no hot reload: a published table never changes.
type Store struct {
	log    *zap.Logger
	tables map[int]*Table
}

// NewStore loads the embedded default tables and, when configured, merges
// YAML tables from RateTableDir on top of them.
func NewStore(cfg config.Config, log *zap.Logger) (*Store, error) {
	s := &Store{
		log:    log.Named("ratetable.store"),
		tables: make(map[int]*Table),
	}

	if err := s.loadYAML(defaultTables); err != nil {
		return nil, fmt.Errorf("load embedded rate tables: %w", err)
	}

	if dir := strings.TrimSpace(cfg.RateTableDir); dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read rate table dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("read rate table %s: %w", entry.Name(), err)
			}
			if err := s.loadYAML(raw); err != nil {
				return nil, fmt.Errorf("load rate table %s: %w", entry.Name(), err)
			}
		}
	}

	years := make([]int, 0, len(s.tables))
	for year := range s.tables {
		years = append(years, year)
	}
	s.log.Info("rate tables loaded", zap.Ints("years", years))

	return s, nil
}

// ForYear returns the table for a tax year.
func (s *Store) ForYear(year int) (*Table, error) {
	table, ok := s.tables[year]
	if !ok {
		return nil, ErrYearNotSupported
	}
	return table, nil
}

// Years lists the supported tax years.
func (s *Store) Years() []int {
	years := make([]int, 0, len(s.tables))
	for year := range s.tables {
		years = append(years, year)
	}
	return years
}

type bracketSchema struct {
	UpperBound string `mapstructure:"upper_bound"`
	Rate       string `mapstructure:"rate"`
}

type tableSchema struct {
	Year                int               `mapstructure:"year"`
	Currency            string            `mapstructure:"currency"`
	Brackets            []bracketSchema   `mapstructure:"brackets"`
	PersonalRelief      string            `mapstructure:"personal_relief"`
	InsuranceReliefRate string            `mapstructure:"insurance_relief_rate"`
	InsuranceReliefCap  string            `mapstructure:"insurance_relief_cap"`
	MortgageInterestCap string            `mapstructure:"mortgage_interest_cap"`
	PensionCap          string            `mapstructure:"pension_cap"`
	VATRate             string            `mapstructure:"vat_rate"`
	TurnoverRate        string            `mapstructure:"turnover_rate"`
	RentalRate          string            `mapstructure:"rental_rate"`
	CapitalGainsRate    string            `mapstructure:"capital_gains_rate"`
	Withholding         map[string]string `mapstructure:"withholding"`
}

type fileSchema struct {
	Tables []tableSchema `mapstructure:"tables"`
}

func (s *Store) loadYAML(raw []byte) error {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return err
	}

	var file fileSchema
	if err := v.Unmarshal(&file); err != nil {
		return err
	}

	for _, schema := range file.Tables {
		table, err := buildTable(schema)
		if err != nil {
			return err
		}
		if err := table.Validate(); err != nil {
			return fmt.Errorf("year %d: %w", table.Year, err)
		}
		s.tables[table.Year] = table
	}

	return nil
}

func buildTable(schema tableSchema) (*Table, error) {
	table := &Table{
		Year:        schema.Year,
		Currency:    strings.TrimSpace(schema.Currency),
		Withholding: make(map[string]decimal.Decimal, len(schema.Withholding)),
	}
	if table.Currency == "" {
		table.Currency = "KES"
	}

	for _, b := range schema.Brackets {
		rate, err := parseDecimal(b.Rate)
		if err != nil {
			return nil, err
		}
		bracket := Bracket{Rate: rate}
		if strings.TrimSpace(b.UpperBound) != "" {
			upper, err := parseDecimal(b.UpperBound)
			if err != nil {
				return nil, err
			}
			bracket.UpperBound = &upper
		}
		table.Brackets = append(table.Brackets, bracket)
	}

	var err error
	if table.PersonalRelief, err = parseDecimal(schema.PersonalRelief); err != nil {
		return nil, err
	}
	if table.InsuranceReliefRate, err = parseDecimal(schema.InsuranceReliefRate); err != nil {
		return nil, err
	}
	if table.InsuranceReliefCap, err = parseDecimal(schema.InsuranceReliefCap); err != nil {
		return nil, err
	}
	if table.MortgageInterestCap, err = parseDecimal(schema.MortgageInterestCap); err != nil {
		return nil, err
	}
	if table.PensionCap, err = parseDecimal(schema.PensionCap); err != nil {
		return nil, err
	}
	if table.VATRate, err = parseDecimal(schema.VATRate); err != nil {
		return nil, err
	}
	if table.TurnoverRate, err = parseDecimal(schema.TurnoverRate); err != nil {
		return nil, err
	}
	if table.RentalRate, err = parseDecimal(schema.RentalRate); err != nil {
		return nil, err
	}
	if table.CapitalGainsRate, err = parseDecimal(schema.CapitalGainsRate); err != nil {
		return nil, err
	}

	for category, raw := range schema.Withholding {
		rate, err := parseDecimal(raw)
		if err != nil {
			return nil, err
		}
		table.Withholding[strings.ToLower(strings.TrimSpace(category))] = rate
	}

	return table, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", raw, err)
	}
	return value, nil
}
