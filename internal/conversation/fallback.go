package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/similarity"
	"github.com/Lllllllleong/invoicesession/internal/tools"
)

const (
	contextDocuments = 5
	maxContextChars  = 6000
)

// fallback answers without tools: one completion over retrieved context, or a
// templated answer computed directly from the records when that fails.
func (l *Loop) fallback(ctx context.Context, sess *models.Session, question string) models.Answer {
	views := retrieve(sess, question)
	sources := make([]models.Source, len(views))
	for i, v := range views {
		sources[i] = models.Source{DocumentID: v.DocumentID, Filename: v.Filename}
	}

	if l.completer != nil {
		text, err := l.complete(ctx, fmt.Sprintf(fallbackPrompt, renderContext(views, maxContextChars), question))
		switch {
		case err != nil:
			l.logger.Warn("Fallback completion failed, using templated answer", "sessionId", sess.ID, "error", err)
		case strings.TrimSpace(text) == "" || llm.IsRefusal(text):
			l.logger.Warn("Fallback completion unusable, using templated answer", "sessionId", sess.ID)
		default:
			return models.Answer{Text: strings.TrimSpace(text), Sources: sources, Mode: models.AnswerModeFallback}
		}
	}
	return models.Answer{Text: templateAnswer(sess.Documents, question), Sources: sources, Mode: models.AnswerModeTemplate}
}

func (l *Loop) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.completer.Complete(ctx, llm.CompletionRequest{
		Model:       l.model,
		Prompt:      prompt,
		Temperature: llm.Ptr[float32](0.3),
		MaxTokens:   512,
	})
}

// retrieve returns the documents most relevant to question, or the leading
// documents of the session when nothing scores above zero.
func retrieve(sess *models.Session, question string) []tools.DocumentView {
	hits := tools.SearchSimilar(sess, question, contextDocuments, similarity.ContextThreshold)
	views := make([]tools.DocumentView, 0, contextDocuments)
	for _, h := range hits {
		views = append(views, h.Invoice)
	}
	if len(views) > 0 {
		return views
	}
	for i := 0; i < len(sess.Documents) && i < contextDocuments; i++ {
		d := sess.Documents[i]
		views = append(views, tools.DocumentView{DocumentID: d.ID, Filename: d.Filename, Data: d.Record})
	}
	return views
}

// renderContext lists each document's fields and line items, truncated to limit bytes.
func renderContext(views []tools.DocumentView, limit int) string {
	var b strings.Builder
	b.WriteString("Invoice data:\n")
	for _, v := range views {
		r := v.Data
		amount := "unknown"
		if a, ok := r.Amount(); ok {
			amount = money(a)
		}
		fmt.Fprintf(&b, "Document: %s - Vendor: %s, Amount: %s", v.Filename, orDefault(r.Vendor(), "Unknown vendor"), amount)
		if inv := r.Invoice(); inv != "" {
			fmt.Fprintf(&b, ", Invoice: %s", inv)
		}
		if date := r.DateString(); date != "" {
			fmt.Fprintf(&b, ", Date: %s", date)
		}
		if terms := r.Terms(); terms != "" {
			fmt.Fprintf(&b, ", Terms: %s", terms)
		}
		if len(r.LineItems) > 0 {
			fmt.Fprintf(&b, "\nLine Items (%d items):", len(r.LineItems))
			for i, item := range r.LineItems {
				fmt.Fprintf(&b, "\n  %d. %s", i+1, orDefault(item.Description, "Unknown"))
				if item.Person != nil {
					fmt.Fprintf(&b, " - Person: %s", *item.Person)
				}
				if item.Quantity != nil {
					fmt.Fprintf(&b, " - Quantity: %g", *item.Quantity)
				}
				if item.Rate != nil {
					fmt.Fprintf(&b, " - Rate: %s", money(*item.Rate))
				}
				if item.Amount != nil {
					fmt.Fprintf(&b, " - Amount: %s", money(*item.Amount))
				}
			}
		}
		b.WriteString("\n")
		if b.Len() >= limit {
			break
		}
	}
	out := b.String()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// templateAnswer handles the common questions by direct computation.
func templateAnswer(docs []models.Document, question string) string {
	q := strings.ToLower(question)

	switch {
	case containsAny(q, "vendor", "who") && containsAny(q, "most", "highest", "charged"):
		var top *models.Document
		for i := range docs {
			amount, ok := docs[i].Record.Amount()
			if !ok || amount <= 0 {
				continue
			}
			if top == nil {
				top = &docs[i]
				continue
			}
			if best, _ := top.Record.Amount(); amount > best {
				top = &docs[i]
			}
		}
		if top == nil {
			return "I couldn't determine which vendor charged the most from the available data."
		}
		amount, _ := top.Record.Amount()
		return fmt.Sprintf("%s charged the most at %s.", orDefault(top.Record.Vendor(), "Unknown"), money(amount))

	case strings.Contains(q, "total") && containsAny(q, "amount", "cost", "spent", "spend"):
		total, n := 0.0, 0
		for _, d := range docs {
			if amount, ok := d.Record.Amount(); ok {
				total += amount
				n++
			}
		}
		return fmt.Sprintf("The total amount across all invoices is %s from %d document(s).", money(total), n)

	case strings.Contains(q, "vendor") && containsAny(q, "how many", "count", "unique"):
		set := map[string]struct{}{}
		for _, d := range docs {
			if v := d.Record.Vendor(); v != "" {
				set[v] = struct{}{}
			}
		}
		vendors := make([]string, 0, len(set))
		for v := range set {
			vendors = append(vendors, v)
		}
		sort.Strings(vendors)
		return fmt.Sprintf("I found %d unique vendors: %s", len(vendors), strings.Join(vendors, ", "))
	}

	if len(docs) == 0 {
		return EmptySessionMessage
	}
	r := docs[0].Record
	return fmt.Sprintf("I found an invoice from %s for %s.", orDefault(r.Vendor(), "Unknown vendor"), amountText(r))
}

func money(f float64) string {
	return message.NewPrinter(language.English).Sprintf("$%.2f", f)
}

func amountText(r models.StructuredRecord) string {
	if amount, ok := r.Amount(); ok {
		return money(amount)
	}
	return "an unknown amount"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
