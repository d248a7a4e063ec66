package export

import (
	"reflect"
	"testing"
)

func TestInferFieldPriority(t *testing.T) {
	tests := []struct {
		name   string
		column string
		values []string
		expect string
	}{
		{"password by name", "Password", []string{"hunter2"}, FieldPassword},
		{"secret by name", "Client Secret", []string{"abc"}, FieldPassword},
		{"name wins over numeric values", "API Key", []string{"12345", "67890"}, FieldPassword},
		{"totp by name", "TOTP Seed", []string{"JBSWY3DP"}, FieldTOTP},
		{"two factor by name", "Two-Factor Code", []string{"x"}, FieldTOTP},
		{"booleans", "Enabled", []string{"yes", "no", "yes"}, FieldCheckbox},
		{"mixed case booleans", "Active", []string{"TRUE", "False", "on", "off"}, FieldCheckbox},
		{"integers", "Port", []string{"80", "443", "8080"}, FieldNumber},
		{"floats and scientific", "Load", []string{"-1.5", "2e10", "3.14"}, FieldNumber},
		{"iso dates", "Expires", []string{"2024-01-31", "2025-12-01"}, FieldDate},
		{"datetime with offset", "Renewed", []string{"2024-01-31T10:00:00+02:00"}, FieldDate},
		{"us dates", "Purchased", []string{"01/31/2024", "12/01/2023"}, FieldDate},
		{"long text", "Notes", []string{"line one\nline two", "another\nnote"}, FieldTextbox},
		{"default text", "Hostname", []string{"web-01", "web-02"}, FieldText},
		{"empty column", "Comment", []string{"", "", ""}, FieldText},
		{"all unique is not select", "Serial", []string{"a", "b", "c"}, FieldText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := InferField(tc.column, tc.values)
			if f.FieldType != tc.expect {
				t.Errorf("InferField(%q, %v).FieldType = %q, want %q", tc.column, tc.values, f.FieldType, tc.expect)
			}
		})
	}
}

func TestInferFieldSelect(t *testing.T) {
	f := InferField("Status", []string{"Active", "Active", "Inactive", "Active", "Inactive", "Active"})
	if f.FieldType != FieldSelect {
		t.Fatalf("FieldType = %q, want select", f.FieldType)
	}
	if !reflect.DeepEqual(f.Options, []string{"Active", "Inactive"}) {
		t.Errorf("Options = %v, want [Active Inactive]", f.Options)
	}
}

func TestInferFieldRequired(t *testing.T) {
	f := InferField("Host", []string{"a", "b", "c"})
	if !f.Required {
		t.Error("all-populated column should be required")
	}
	f = InferField("Host", []string{"a", "", "c"})
	if f.Required {
		t.Error("column with an empty value should not be required")
	}
}

func TestFieldKey(t *testing.T) {
	tests := []struct {
		in     string
		expect string
	}{
		{"Name", "name"},
		{"IP Address", "ip_address"},
		{"SSL -- Expiry!!", "ssl_expiry"},
		{"  spaces  ", "spaces"},
		{"2FA Code", "2fa_code"},
		{"!!!", "field"},
		{"", "field"},
	}
	for _, tc := range tests {
		if got := FieldKey(tc.in); got != tc.expect {
			t.Errorf("FieldKey(%q) = %q, want %q", tc.in, got, tc.expect)
		}
	}
}

func TestInferFieldsShowInList(t *testing.T) {
	headers := []string{"id", "Name", "Host", "Port", "Notes"}
	rows := []map[string]string{
		{"id": "1", "name": "a", "host": "h1", "port": "80", "notes": ""},
		{"id": "2", "name": "b", "host": "h2", "port": "443", "notes": "x"},
	}
	fields := InferFields(headers, rows)
	if len(fields) != 4 {
		t.Fatalf("got %d fields, want 4 (id is metadata)", len(fields))
	}
	for i, f := range fields {
		want := i < 3
		if f.ShowInList != want {
			t.Errorf("fields[%d] (%s) ShowInList = %v, want %v", i, f.Name, f.ShowInList, want)
		}
	}
	if fields[0].Name != "Name" || fields[2].Name != "Port" {
		t.Errorf("field order not preserved: %v", fields)
	}
}

func TestInferFieldSampleValues(t *testing.T) {
	f := InferField("Env", []string{"prod", "prod", "dev", "dev", "stage"})
	if !reflect.DeepEqual(f.SampleValues, []string{"prod", "dev", "stage"}) {
		t.Errorf("SampleValues = %v", f.SampleValues)
	}
}
