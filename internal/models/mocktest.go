package models

import (
	"fmt"
	"time"
)

// MockTest is one entry of the dashboard's list of available tests
type MockTest struct {
	Title     string        `yaml:"title"`
	Duration  time.Duration `yaml:"duration"`
	Questions int           `yaml:"questions"`
}

// Summary renders the duration and question count line under the title
func (m MockTest) Summary() string {
	return fmt.Sprintf("Duration: %s | Questions: %d", formatHours(m.Duration), m.Questions)
}

func formatHours(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	switch {
	case hours == 1 && minutes == 0:
		return "1 hour"
	case minutes == 0:
		return fmt.Sprintf("%d hours", hours)
	case hours == 0:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}

// DefaultCatalog returns the tests listed when the config names none
func DefaultCatalog() []MockTest {
	return []MockTest{
		{Title: "JEE B.Arch Mock Test - 1", Duration: 3 * time.Hour, Questions: 77},
		{Title: "JEE B.Arch Mock Test - 2", Duration: 3 * time.Hour, Questions: 77},
		{Title: "JEE B.Arch Practice Test", Duration: time.Hour, Questions: 25},
	}
}
