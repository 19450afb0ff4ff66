package records

import (
	"fmt"
	"strconv"
	"time"

	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/pkg/pdf"
)

const timeLayout = "2006-01-02 15:04 MST"

// RenderMinutes produces the hearing minutes PDF. Drafts are left out and redacted
// statements appear only as a redaction marker.
func RenderMinutes(detail *hearings.Detail, generatedAt time.Time) ([]byte, error) {
	h := detail.Hearing
	opts := pdf.DefaultOptions(fmt.Sprintf("Hearing #%d minutes", h.HearingNumber))
	opts.Subtitle = "Dispute " + h.DisputeID.String()
	opts.Author = "Dispute Court"
	opts.GeneratedAt = generatedAt
	doc := pdf.New(opts)

	doc.Section("Hearing")
	doc.Fields(
		pdf.Field{Label: "Hearing ID", Value: h.ID.String()},
		pdf.Field{Label: "Status", Value: string(h.Status)},
		pdf.Field{Label: "Tier", Value: string(h.Tier)},
		pdf.Field{Label: "Emergency", Value: yesNo(h.IsEmergency)},
		pdf.Field{Label: "Scheduled", Value: h.ScheduledAt.Format(timeLayout)},
		pdf.Field{Label: "Started", Value: formatTime(h.StartedAt)},
		pdf.Field{Label: "Ended", Value: formatTime(h.EndedAt)},
		pdf.Field{Label: "Moderator", Value: h.ModeratorID.String()},
		pdf.Field{Label: "Agenda", Value: h.Agenda},
	)

	doc.Section("Participants")
	rows := make([][]string, 0, len(detail.Participants))
	for _, p := range detail.Participants {
		rows = append(rows, []string{
			string(p.Role),
			p.UserID.String(),
			yesNo(p.IsRequired),
			formatTime(p.JoinedAt),
			strconv.Itoa(p.TotalOnlineMinutes),
		})
	}
	doc.Table([]string{"Role", "User", "Required", "Joined", "Minutes"}, []float64{2, 5, 1.5, 3, 1.5}, rows)

	doc.Section("Statements")
	rows = rows[:0]
	for _, s := range detail.Statements {
		if s.Status != hearings.StatementSubmitted || s.OrderIndex == nil {
			continue
		}
		content := s.Content
		if s.IsRedacted {
			content = "[redacted]"
			if s.RedactedReason != nil {
				content = "[redacted: " + *s.RedactedReason + "]"
			}
		}
		if s.SupersededByID != nil {
			content = "(retracted) " + content
		}
		rows = append(rows, []string{
			strconv.Itoa(*s.OrderIndex),
			string(s.Type),
			s.AuthorID.String()[:8],
			content,
		})
	}
	doc.Table([]string{"#", "Type", "Author", "Content"}, []float64{0.6, 1.6, 1.4, 7}, rows)

	if len(detail.Questions) > 0 {
		doc.Section("Questions")
		rows = rows[:0]
		for _, q := range detail.Questions {
			answer := ""
			if q.Answer != nil {
				answer = *q.Answer
			}
			rows = append(rows, []string{
				strconv.Itoa(q.OrderIndex),
				q.TargetUserID.String()[:8],
				q.Question,
				answer,
				string(q.Status),
			})
		}
		doc.Table([]string{"#", "To", "Question", "Answer", "Status"}, []float64{0.6, 1.4, 4, 4, 2.5}, rows)
	}

	if h.Summary != nil || h.Findings != nil {
		doc.Section("Outcome")
		if h.Summary != nil {
			doc.Paragraph("Summary: " + *h.Summary)
		}
		if h.Findings != nil {
			doc.Paragraph("Findings: " + *h.Findings)
		}
	}
	return doc.Bytes()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
