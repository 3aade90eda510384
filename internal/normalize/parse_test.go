package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTeachingUnitCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "E3101Q_INF101_2023", want: "INF101"},
		{in: "E3101Q_MAT200", want: "MAT200"},
		{in: "A_B_C_D", want: "B"},
		{in: "INF101", wantErr: true},
		{in: "", wantErr: true},
		{in: "E3101Q__2023", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TeachingUnitCode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSite(t *testing.T) {
	require.Equal(t, "U14", ResolveSite("LIB", "U14-101"))
	require.Equal(t, "U6", ResolveSite("LIB", "U6-A-12"))
	require.Equal(t, "AULAMAGNA", ResolveSite("LIB", "AULAMAGNA"))
	require.Equal(t, "U2", ResolveSite("U2", "U14-101"))
}

func TestStripTags(t *testing.T) {
	require.Equal(t, "Festa Nazionale", StripTags("<b>Festa</b> Nazionale"))
	require.Equal(t, "Vacanze di Pasqua", StripTags(`<span class="x">Vacanze</span> di <i>Pasqua</i>`))
	require.Equal(t, "a > b", StripTags("a > b"))
}

func TestParseTeachers(t *testing.T) {
	require.Equal(t, []string{"Rossi Mario", "Bianchi Anna"}, ParseTeachers(" rossi mario , bianchi, anna "))
	require.Equal(t, []string{"Rossi Mario"}, ParseTeachers("ROSSI MARIO"))
	require.Equal(t, []string{"De Luca Paola", "Verdi Giuseppe"}, ParseTeachers("DE LUCA PAOLA , verdi GIUSEPPE ,"))
	require.Nil(t, ParseTeachers("   "))

	// Only " , " separates entries; a bare comma is punctuation inside a name.
	require.Equal(t, []string{"Rossi Bianchi"}, ParseTeachers("rossi,bianchi"))
	require.Equal(t, []string{"Rossi", "Bianchi"}, ParseTeachers("rossi , bianchi"))
}

func TestParseEmails(t *testing.T) {
	require.Equal(t, []string{"a@unimib.it", "b@unimib.it"}, ParseEmails(" a@unimib.it , b@unimib.it, "))
	require.Nil(t, ParseEmails(""))
}

func TestCapitalize(t *testing.T) {
	require.Equal(t, "Prova scritta", capitalize("PROVA SCRITTA"))
	require.Equal(t, "Orale", capitalize("orale"))
	require.Equal(t, "", capitalize("  "))
}
