package fieldname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	opts := FormatOptions{
		Replacements: map[string]string{"Fecha": "Date", "Fecha Alta": "Signup Date", "Num": "Number"},
		Acronyms:     []string{"id", "url"},
	}

	tests := []struct {
		style Style
		in    string
		want  string
	}{
		{style: StyleCamel, in: "fecha_alta", want: "FechaAlta"},
		{style: StyleCamel, in: "Fecha Alta cliente", want: "SignupDateCliente"},
		{style: StyleSnake, in: "Customer ID-url", want: "customer_ID_URL"},
		{style: StyleSentence, in: "TOTAL_num_items", want: "Total num items"},
		{style: StyleNone, in: "Fecha x", want: "Date x"},
	}
	for _, tt := range tests {
		t.Run(string(tt.style)+"/"+tt.in, func(t *testing.T) {
			o := opts
			o.Style = tt.style
			assert.Equal(t, tt.want, Format(tt.in, o))
		})
	}
}

func TestFormatAll(t *testing.T) {
	got := FormatAll([]string{"a_b"}, FormatOptions{Style: StyleSnake})
	assert.Equal(t, []Mapping{{Original: "a_b", Formatted: "a_b"}}, got)
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle("none")
	require.NoError(t, err)
	assert.Equal(t, StyleNone, s)

	_, err = ParseStyle("kebab")
	require.Error(t, err)
}

func TestApplyReplacements_LongestFirst(t *testing.T) {
	repl := map[string]string{"ab": "X", "abc": "Y"}
	assert.Equal(t, "Y-X", ApplyReplacements("abc-ab", repl))
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in    string
		style HeaderStyle
		want  string
	}{
		{in: "  Fecha de Alta ", style: HeaderForms, want: "fecha_de_alta"},
		{in: "Año (€)", style: HeaderForms, want: "ano"},
		{in: "Precio / Unidad", style: HeaderSnake, want: "precio_unidad"},
		{in: "Precio / Unidad", style: HeaderSlug, want: "precio-unidad"},
		{in: "__x__", style: HeaderSnake, want: "x"},
	}
	for _, tt := range tests {
		t.Run(string(tt.style)+"/"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeader(tt.in, tt.style))
		})
	}
}

func TestNormalizeHeaders_Dedupes(t *testing.T) {
	got := NormalizeHeaders([]string{"Name", "name ", "NAME", "other"}, HeaderForms)
	assert.Equal(t, []string{"name", "name_2", "name_3", "other"}, got)
}

func TestBigQueryColumn(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Dirección Envío", want: "Direccion_Envio"},
		{in: "a--b  c", want: "a_b_c"},
		{in: "_x_", want: "x"},
		{in: "日本", want: "col"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BigQueryColumn(tt.in), tt.in)
	}
	assert.Len(t, BigQueryColumn(strings.Repeat("a", 400)), MaxBigQueryName)
}

func TestBigQueryColumns_Dedupes(t *testing.T) {
	assert.Equal(t, []string{"a_b", "a_b_2"}, BigQueryColumns([]string{"a b", "a-b"}))
}

func TestTableName(t *testing.T) {
	got := TableName("exports/2024/ventas mes.csv", map[string]string{"ventas": "sales"}, "_raw")
	assert.Equal(t, "exports_2024_sales_mes_raw", got)
}
