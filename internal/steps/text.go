package steps

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// StringCaseParams changes the letter case of text columns.
type StringCaseParams struct {
	Cols []string `mapstructure:"cols"`
	Case string   `mapstructure:"case"`
}

func (p *StringCaseParams) Validate() error {
	if len(p.Cols) == 0 {
		return errors.New("cols must not be empty")
	}
	return oneOf("case", p.Case, "upper", "lower", "title")
}

func stringCaseDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "string_case",
		Label:       "Change Case",
		Group:       GroupText,
		Description: "Upper, lower or title case text values. Non-text values are left alone.",
	}, func() *StringCaseParams { return &StringCaseParams{Case: "lower"} }, stringCase)
}

func stringCase(_ context.Context, rel *relation.Relation, p *StringCaseParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols, mode := slices.Clone(p.Cols), p.Case
	return rel.Then("string_case", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		var caser cases.Caser
		switch mode {
		case "upper":
			caser = cases.Upper(language.Und)
		case "title":
			caser = cases.Title(language.Und)
		default:
			caser = cases.Lower(language.Und)
		}
		return mapText(f, cols, caser.String)
	}), nil
}

// NormalizeTextParams cleans text: Unicode normalization form, optional
// accent stripping, trimming and whitespace collapsing.
type NormalizeTextParams struct {
	Cols           []string `mapstructure:"cols"`
	Form           string   `mapstructure:"form"`
	StripAccents   bool     `mapstructure:"strip_accents"`
	Trim           bool     `mapstructure:"trim"`
	CollapseSpaces bool     `mapstructure:"collapse_spaces"`
}

func (p *NormalizeTextParams) Validate() error {
	if len(p.Cols) == 0 {
		return errors.New("cols must not be empty")
	}
	return oneOf("form", p.Form, "NFC", "NFD", "NFKC", "NFKD")
}

func normalizeTextDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "normalize_text",
		Label:       "Normalize Text",
		Group:       GroupText,
		Description: "Unicode-normalize text values, optionally stripping accents and extra whitespace.",
	}, func() *NormalizeTextParams { return &NormalizeTextParams{Form: "NFC", Trim: true} }, normalizeText)
}

func normalizeText(_ context.Context, rel *relation.Relation, p *NormalizeTextParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols := slices.Clone(p.Cols)
	form, strip, trim, collapse := normForm(p.Form), p.StripAccents, p.Trim, p.CollapseSpaces
	return rel.Then("normalize_text", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		var t transform.Transformer = form
		if strip {
			t = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), form)
		}
		return mapText(f, cols, func(s string) string {
			out, _, err := transform.String(t, s)
			if err != nil {
				out = s
			}
			if collapse {
				out = strings.Join(strings.Fields(out), " ")
			} else if trim {
				out = strings.TrimSpace(out)
			}
			return out
		})
	}), nil
}

func normForm(name string) norm.Form {
	switch name {
	case "NFD":
		return norm.NFD
	case "NFKC":
		return norm.NFKC
	case "NFKD":
		return norm.NFKD
	}
	return norm.NFC
}

// mapText applies fn to string values in cols.
func mapText(f *relation.Frame, cols []string, fn func(string) string) (*relation.Frame, error) {
	idx, err := f.MustColumns(cols...)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, len(f.Rows))
	for i, src := range f.Rows {
		row := copyRow(src)
		for _, c := range idx {
			if s, ok := row[c].(string); ok {
				row[c] = fn(s)
			}
		}
		rows[i] = row
	}
	return f.WithRows(rows), nil
}
