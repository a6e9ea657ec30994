package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/views"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var reportTitles = map[ReportType]string{
	ReportTransactions: "Transacciones",
	ReportBudgets:      "Presupuestos",
	ReportAccounts:     "Cuentas",
	ReportSummary:      "Resumen",
}

func renderCSV(snap Snapshot, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	var records [][]string
	switch opts.Type {
	case ReportTransactions:
		records = append(records, []string{"date", "type", "category", "description", "amount", "account_id", "budget_id", "recurring"})
		for _, tx := range snap.InRange(opts) {
			records = append(records, []string{
				tx.Date.String(),
				string(tx.Type),
				tx.Category,
				tx.Description,
				tx.Amount.StringFixed(2),
				tx.AccountID,
				tx.BudgetID,
				strconv.FormatBool(tx.IsRecurring),
			})
		}
	case ReportBudgets:
		records = append(records, []string{"name", "category", "period", "amount", "spent", "remaining", "percent"})
		for _, st := range views.BudgetProgress(snap.Budgets, snap.InRange(opts)) {
			records = append(records, []string{
				st.Budget.Name,
				st.Budget.Category,
				string(st.Budget.Period),
				st.Budget.Amount.StringFixed(2),
				st.Spent.StringFixed(2),
				st.Remaining.StringFixed(2),
				strconv.FormatFloat(st.Percent, 'f', 1, 64),
			})
		}
	case ReportAccounts:
		records = append(records, []string{"name", "type", "currency", "balance", "active"})
		for _, a := range snap.Accounts {
			records = append(records, []string{
				a.Name,
				string(a.Type),
				a.Currency,
				a.Balance.StringFixed(2),
				strconv.FormatBool(a.IsActive),
			})
		}
	case ReportSummary:
		sum := views.Summary(snap.InRange(opts), snap.Accounts)
		records = append(records,
			[]string{"metric", "value"},
			[]string{"total_balance", sum.TotalBalance.StringFixed(2)},
			[]string{"income", sum.Income.StringFixed(2)},
			[]string{"expenses", sum.Expenses.StringFixed(2)},
			[]string{"net", sum.Net.StringFixed(2)},
			[]string{"category", "total", "percent"},
		)
		for _, c := range sum.TopCategories {
			records = append(records, []string{c.Category, c.Total.StringFixed(2), strconv.FormatFloat(c.Percent, 'f', 1, 64)})
		}
	}

	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jsonReport struct {
	Type         ReportType           `json:"type"`
	GeneratedAt  time.Time            `json:"generatedAt"`
	From         *civil.Date          `json:"from,omitempty"`
	To           *civil.Date          `json:"to,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Budgets      []views.BudgetStatus `json:"budgets,omitempty"`
	Accounts     []domain.Account     `json:"accounts,omitempty"`
	Summary      *views.SummaryReport `json:"summary,omitempty"`
}

func renderJSON(snap Snapshot, opts Options) ([]byte, error) {
	report := jsonReport{Type: opts.Type, GeneratedAt: opts.GeneratedAt.UTC()}
	if opts.From != (civil.Date{}) {
		report.From = &opts.From
	}
	if opts.To != (civil.Date{}) {
		report.To = &opts.To
	}

	switch opts.Type {
	case ReportTransactions:
		report.Transactions = snap.InRange(opts)
	case ReportBudgets:
		report.Budgets = views.BudgetProgress(snap.Budgets, snap.InRange(opts))
	case ReportAccounts:
		report.Accounts = snap.Accounts
	case ReportSummary:
		sum := views.Summary(snap.InRange(opts), snap.Accounts)
		report.Summary = &sum
	}
	return json.MarshalIndent(report, "", "  ")
}

func renderMarkdown(snap Snapshot, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# PocketPilot: %s\n\n", reportTitles[opts.Type])
	fmt.Fprintf(&b, "_Generado: %s_\n\n", opts.GeneratedAt.Format("2006-01-02 15:04"))
	if opts.Bounded() {
		fmt.Fprintf(&b, "Periodo: %s a %s\n\n", dateOrDash(opts.From), dateOrDash(opts.To))
	}

	switch opts.Type {
	case ReportTransactions:
		txs := snap.InRange(opts)
		if len(txs) == 0 {
			b.WriteString("No hay transacciones.\n")
			break
		}
		b.WriteString("| Fecha | Tipo | Categoría | Descripción | Monto |\n")
		b.WriteString("|---|---|---|---|---:|\n")
		for _, tx := range txs {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				tx.Date, tx.Type, cell(tx.Category), cell(tx.Description), domain.FormatAmount(tx.Amount, domain.CurrencyUSD))
		}
	case ReportBudgets:
		statuses := views.BudgetProgress(snap.Budgets, snap.InRange(opts))
		if len(statuses) == 0 {
			b.WriteString("No hay presupuestos.\n")
			break
		}
		b.WriteString("| Presupuesto | Categoría | Monto | Gastado | Restante | % |\n")
		b.WriteString("|---|---|---:|---:|---:|---:|\n")
		for _, st := range statuses {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %.1f |\n",
				cell(st.Budget.Name), cell(st.Budget.Category),
				domain.FormatAmount(st.Budget.Amount, domain.CurrencyUSD),
				domain.FormatAmount(st.Spent, domain.CurrencyUSD),
				domain.FormatAmount(st.Remaining, domain.CurrencyUSD),
				st.Percent)
		}
	case ReportAccounts:
		if len(snap.Accounts) == 0 {
			b.WriteString("No hay cuentas.\n")
			break
		}
		b.WriteString("| Cuenta | Tipo | Saldo | Activa |\n")
		b.WriteString("|---|---|---:|---|\n")
		for _, a := range snap.Accounts {
			active := "no"
			if a.IsActive {
				active = "sí"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(a.Name), a.Type, domain.FormatAmount(a.Balance, a.Currency), active)
		}
	case ReportSummary:
		b.WriteString(SummaryMarkdown(views.Summary(snap.InRange(opts), snap.Accounts)))
	}
	return b.String()
}

// SummaryMarkdown renders a summary report body as Markdown.
func SummaryMarkdown(sum views.SummaryReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- **Saldo total:** %s\n", domain.FormatAmount(sum.TotalBalance, domain.CurrencyUSD))
	fmt.Fprintf(&b, "- **Ingresos:** %s\n", domain.FormatAmount(sum.Income, domain.CurrencyUSD))
	fmt.Fprintf(&b, "- **Gastos:** %s\n", domain.FormatAmount(sum.Expenses, domain.CurrencyUSD))
	fmt.Fprintf(&b, "- **Balance:** %s\n\n", domain.FormatAmount(sum.Net, domain.CurrencyUSD))

	if len(sum.TopCategories) > 0 {
		b.WriteString("## Principales categorías\n\n")
		b.WriteString("| Categoría | Total | % |\n|---|---:|---:|\n")
		for _, c := range sum.TopCategories {
			fmt.Fprintf(&b, "| %s | %s | %.1f |\n", cell(c.Category), domain.FormatAmount(c.Total, domain.CurrencyUSD), c.Percent)
		}
		b.WriteString("\n")
	}

	if len(sum.Monthly) > 0 {
		b.WriteString("## Por mes\n\n")
		b.WriteString("| Mes | Ingresos | Gastos |\n|---|---:|---:|\n")
		for _, m := range sum.Monthly {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", m.Month,
				domain.FormatAmount(m.Income, domain.CurrencyUSD), domain.FormatAmount(m.Expenses, domain.CurrencyUSD))
		}
	}
	return b.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

func renderHTML(snap Snapshot, opts Options) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(renderMarkdown(snap, opts)), &body); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html lang=\"es\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>PocketPilot: %s</title>\n", reportTitles[opts.Type])
	buf.WriteString("</head>\n<body>\n")
	buf.Write(body.Bytes())
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func dateOrDash(d civil.Date) string {
	if d == (civil.Date{}) {
		return "-"
	}
	return d.String()
}
