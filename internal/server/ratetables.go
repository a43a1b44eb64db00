package server

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mapato/taxcore/internal/ratetable"
)

type rateBracketResponse struct {
	UpperBound *string `json:"upper_bound,omitempty"`
	Rate       string  `json:"rate"`
}

type rateTableResponse struct {
	Year     int    `json:"year"`
	Currency string `json:"currency"`

	Brackets []rateBracketResponse `json:"brackets"`

	PersonalRelief      string `json:"personal_relief"`
	InsuranceReliefRate string `json:"insurance_relief_rate"`
	InsuranceReliefCap  string `json:"insurance_relief_cap"`
	MortgageInterestCap string `json:"mortgage_interest_cap"`
	PensionCap          string `json:"pension_cap"`

	VATRate          string `json:"vat_rate"`
	TurnoverRate     string `json:"turnover_rate"`
	RentalRate       string `json:"rental_rate"`
	CapitalGainsRate string `json:"capital_gains_rate"`

	Withholding map[string]string `json:"withholding"`
}

func toRateTableResponse(t *ratetable.Table) rateTableResponse {
	brackets := make([]rateBracketResponse, 0, len(t.Brackets))
	for _, b := range t.Brackets {
		br := rateBracketResponse{Rate: b.Rate.String()}
		if b.UpperBound != nil {
			bound := b.UpperBound.StringFixed(2)
			br.UpperBound = &bound
		}
		brackets = append(brackets, br)
	}

	withholding := make(map[string]string, len(t.Withholding))
	for category, rate := range t.Withholding {
		withholding[category] = rate.String()
	}

	return rateTableResponse{
		Year:                t.Year,
		Currency:            t.Currency,
		Brackets:            brackets,
		PersonalRelief:      t.PersonalRelief.StringFixed(2),
		InsuranceReliefRate: t.InsuranceReliefRate.String(),
		InsuranceReliefCap:  t.InsuranceReliefCap.StringFixed(2),
		MortgageInterestCap: t.MortgageInterestCap.StringFixed(2),
		PensionCap:          t.PensionCap.StringFixed(2),
		VATRate:             t.VATRate.String(),
		TurnoverRate:        t.TurnoverRate.String(),
		RentalRate:          t.RentalRate.String(),
		CapitalGainsRate:    t.CapitalGainsRate.String(),
		Withholding:         withholding,
	}
}

func (s *Server) ListRateTableYears(c *gin.Context) {
	years := s.rates.Years()
	sort.Ints(years)
	c.JSON(http.StatusOK, gin.H{"years": years})
}

func (s *Server) GetRateTable(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		AbortWithError(c, ratetable.ErrYearNotSupported)
		return
	}

	table, err := s.rates.ForYear(year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRateTableResponse(table))
}
