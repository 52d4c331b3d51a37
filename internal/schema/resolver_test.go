package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestResolve_DeliveryHeaderVariants(t *testing.T) {
	tests := []struct {
		header string
	}{
		{`"%DlyQttoTradedQty"`},
		{"DELIV_PER"},
		{"DELIVERY_PER"},
		{"% Deliv"},
		{" DeliveryPercent "},
		{"Delivery Pct"},
		{"DlyQty"},
	}
	for _, tt := range tests {
		m, err := Resolve([]string{"SYMBOL", "CLOSE_PRICE", tt.header}, DefaultCandidates())
		if err != nil {
			t.Fatalf("header %q: unexpected error: %v", tt.header, err)
		}
		if idx, ok := m.Columns[FieldDeliveryPercent]; !ok || idx != 2 {
			t.Errorf("header %q: expected DeliveryPercent at column 2, got %d (ok=%v)", tt.header, idx, ok)
		}
	}
}

func TestResolve_ExactBeatsFuzzy(t *testing.T) {
	header := []string{"SYMBOL", "SERIES", "DATE1", "PREV_CLOSE", "CLOSE_PRICE", "DELIV_QTY", "DELIV_PER"}
	m, err := Resolve(header, DefaultCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[Field]string{
		FieldSymbol:          "SYMBOL",
		FieldSeries:          "SERIES",
		FieldTradeDate:       "DATE1",
		FieldClosePrice:      "CLOSE_PRICE",
		FieldDeliveryPercent: "DELIV_PER",
	}
	for f, h := range want {
		got, ok := m.Header(f)
		if !ok || got != h {
			t.Errorf("%s: expected %q, got %q (ok=%v)", f, h, got, ok)
		}
	}
	if _, ok := m.Header(FieldSector); ok {
		t.Error("expected Sector to stay unresolved")
	}
}

func TestResolve_ExcludedMarker(t *testing.T) {
	m, err := Resolve([]string{"Symbol", "PrevClose", "Deliv %"}, DefaultCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h, ok := m.Header(FieldClosePrice); ok {
		t.Errorf("PrevClose must not resolve as close price, got %q", h)
	}
}

func TestResolve_NselibHistoryHeaders(t *testing.T) {
	header := []string{"Symbol", "Series", "Date", "PrevClose", "OpenPrice", "ClosePrice",
		"DeliverableQty", "%DlyQttoTradedQty", "Trade_Date"}
	m, err := Resolve(header, DefaultCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h, _ := m.Header(FieldTradeDate); h != "Trade_Date" {
		t.Errorf("expected Trade_Date to win over Date, got %q", h)
	}
	if h, _ := m.Header(FieldDeliveryPercent); h != "%DlyQttoTradedQty" {
		t.Errorf("expected %%DlyQttoTradedQty, got %q", h)
	}
}

func TestResolve_MissingDeliveryColumn(t *testing.T) {
	_, err := Resolve([]string{"SYMBOL", "CLOSE_PRICE", "VOLUME"}, DefaultCandidates())
	var sre *SchemaResolutionError
	if !errors.As(err, &sre) {
		t.Fatalf("expected SchemaResolutionError, got %v", err)
	}
	if sre.Field != FieldDeliveryPercent {
		t.Errorf("expected field DeliveryPercent, got %s", sre.Field)
	}
	if len(sre.Headers) != 3 || sre.Headers[2] != "VOLUME" {
		t.Errorf("expected headers to be reported, got %v", sre.Headers)
	}
	if len(sre.Tried) == 0 {
		t.Error("expected attempted candidates to be reported")
	}
	if !strings.Contains(sre.Error(), "VOLUME") {
		t.Errorf("error message should list headers: %s", sre.Error())
	}
}

func TestResolve_MissingSymbolColumn(t *testing.T) {
	_, err := Resolve([]string{"NAME", "DELIV_PER"}, DefaultCandidates())
	var sre *SchemaResolutionError
	if !errors.As(err, &sre) || sre.Field != FieldSymbol {
		t.Fatalf("expected Symbol resolution error, got %v", err)
	}
}

func TestResolve_WidenedCandidates(t *testing.T) {
	header := []string{"SYMBOL", "SMART_MONEY"}
	if _, err := Resolve(header, DefaultCandidates()); err == nil {
		t.Fatal("expected default candidates to fail on SMART_MONEY")
	}
	extra, err := ParseCandidates([]byte("DeliveryPercent:\n  exact: [SMART_MONEY]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, err := Resolve(header, DefaultCandidates().Widen(extra))
	if err != nil {
		t.Fatalf("unexpected error after widening: %v", err)
	}
	if h, _ := m.Header(FieldDeliveryPercent); h != "SMART_MONEY" {
		t.Errorf("expected SMART_MONEY, got %q", h)
	}
}

func TestParseCandidates_UnknownField(t *testing.T) {
	if _, err := ParseCandidates([]byte("Volume:\n  exact: [VOL]\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestCleanHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"\u00ef\u00bb\u00bf\"Symbol\"", "Symbol"},
		{"\ufeffSYMBOL", "SYMBOL"},
		{`  "DELIV_PER" `, "DELIV_PER"},
		{"% Deliv", "% Deliv"},
	}
	for _, tt := range tests {
		if got := CleanHeader(tt.in); got != tt.want {
			t.Errorf("CleanHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
