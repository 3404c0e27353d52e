package odds

import (
	"github.com/shopspring/decimal"
)

const (
	OutcomeSpace = 65536
	MinTarget    = 1
	MaxTarget    = OutcomeSpace - 1
)

// DefaultTargets covers roughly 1% to 99% win chance.
var DefaultTargets = []int{655, 1638, 3277, 6554, 13107, 19661, 26214, 32768, 39322, 45875, 52429, 58982, 62259, 64880}

type Calculator struct {
	houseEdge float64
}

func NewCalculator(houseEdge float64) Calculator {
	return Calculator{houseEdge: houseEdge}
}

func (c Calculator) HouseEdge() float64 {
	return c.houseEdge
}

func ValidTarget(target int) bool {
	return target >= MinTarget && target <= MaxTarget
}

func WinProbability(target int) float64 {
	return float64(target) / OutcomeSpace
}

// Multiplier is the fair multiplier for target reduced by the house edge.
// Callers validate target first.
func (c Calculator) Multiplier(target int) float64 {
	fair := float64(OutcomeSpace) / float64(target)
	return fair * (1 - c.houseEdge)
}

// WorstCaseMultiplier is the multiplier of the least likely bet the house
// accepts.
func (c Calculator) WorstCaseMultiplier() float64 {
	return c.Multiplier(MinTarget)
}

// Payout floors stake*multiplier. Historical records are re-checked with
// this exact rounding, so it must not change.
func Payout(stake int64, multiplier float64) int64 {
	return decimal.NewFromInt(stake).
		Mul(decimal.NewFromFloat(multiplier)).
		Floor().
		IntPart()
}

type Row struct {
	Target            int     `json:"target"`
	WinProbability    float64 `json:"win_probability"`
	Multiplier        float64 `json:"multiplier"`
	PayoutPer1000Sats int64   `json:"payout_per_1000_sats"`
}

func (c Calculator) Table(targets []int) []Row {
	rows := make([]Row, 0, len(targets))
	for _, t := range targets {
		m := c.Multiplier(t)
		rows = append(rows, Row{
			Target:            t,
			WinProbability:    RoundPercent(WinProbability(t)),
			Multiplier:        RoundMultiplier(m),
			PayoutPer1000Sats: Payout(1000, m),
		})
	}
	return rows
}

// RoundMultiplier is for display only.
func RoundMultiplier(m float64) float64 {
	return decimal.NewFromFloat(m).Round(3).InexactFloat64()
}

func RoundPercent(p float64) float64 {
	return decimal.NewFromFloat(p).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}
