package recurrence

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"store number and date", "STARBUCKS #4471 SEATTLE 05/01", "starbucks seattle"},
		{"store keyword", "Starbucks Store 123 Seattle", "starbucks seattle"},
		{"iso date", "SPOTIFY PREMIUM 2024-01-05", "spotify premium"},
		{"dotted date with year", "TESCO STORES 05.01.24", "tesco stores"},
		{"slashed full date", "PAYPAL 2024/01/05 EBAY", "paypal ebay"},
		{"24/7 is not a date", "24/7 FITNESS", "24 7 fitness"},
		{"card tail masked", "SPOTIFY xxxx1234", "spotify"},
		{"card tail stars", "NETFLIX ****9876", "netflix"},
		{"card ending", "AMAZON PRIME card ending 1234", "amazon prime"},
		{"trailing phone number", "NETFLIX.COM 866-579-7172", "netflix.com"},
		{"reference number", "GYM MEMBERSHIP REF 88213377", "gym membership ref"},
		{"diacritics", "CAFÉ NÉRO", "cafe nero"},
		{"ampersand kept", "AT&T Mobility", "at&t mobility"},
		{"apostrophe kept", "McDonald's", "mcdonald's"},
		{"punctuation stripped", "  Uber * Trip!!  ", "uber trip"},
		{"empty", "", UnknownKey},
		{"whitespace", "   ", UnknownKey},
		{"digits only", "12345 0001", UnknownKey},
		{"punctuation only", "#### --- ***", UnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.description); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.description, got, tt.want)
			}
		})
	}
}

func TestNormalize_Stable(t *testing.T) {
	inputs := []string{
		"STARBUCKS #4471 SEATTLE 05/01",
		"NETFLIX.COM 866-579-7172",
		"AT&T Mobility",
		"CAFÉ NÉRO",
		"McDonald's",
	}

	for _, in := range inputs {
		first := Normalize(in)
		if again := Normalize(first); again != first {
			t.Errorf("Normalize not stable for %q: %q then %q", in, first, again)
		}
		if repeat := Normalize(in); repeat != first {
			t.Errorf("Normalize not deterministic for %q: %q then %q", in, first, repeat)
		}
	}
}

func TestNormalize_VariantsShareKey(t *testing.T) {
	variants := []string{
		"STARBUCKS #4471 SEATTLE",
		"Starbucks #12 Seattle 05/01",
		"starbucks seattle",
		"STARBUCKS STORE 99 SEATTLE",
	}

	want := Normalize(variants[0])
	for _, v := range variants[1:] {
		if got := Normalize(v); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", v, got, want)
		}
	}
}
