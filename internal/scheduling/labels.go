package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
)

var weekdayNames = [...]string{
	"Domingo", "Segunda-feira", "Terça-feira", "Quarta-feira", "Quinta-feira", "Sexta-feira", "Sábado",
}

var monthNames = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// FormatSlotLabel renders t as "Segunda-feira, 14 de outubro às 09:00".
func FormatSlotLabel(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s às %02d:%02d",
		weekdayNames[t.Weekday()], t.Day(), monthNames[t.Month()-1], t.Hour(), t.Minute())
}

// FormatSlotList renders slots as a 1-based numbered list, one per line.
func FormatSlotList(slots []domain.TimeSlot) string {
	lines := make([]string, len(slots))
	for i, slot := range slots {
		lines[i] = fmt.Sprintf("%d. %s", i+1, slot.Label)
	}
	return strings.Join(lines, "\n")
}
