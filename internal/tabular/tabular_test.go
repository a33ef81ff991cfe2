package tabular_test

import (
	"testing"

	"github.com/c00lpeace/project-template-final/internal/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV_StripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Device,Comment\nX0,Start button\n")...)

	tbl, err := tabular.ReadCSV(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"Device", "Comment"}, tbl.Header)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Start button", tbl.Value(tbl.Rows[0], "comment"))
	assert.Empty(t, tbl.Missing([]string{"device", "COMMENT"}))
}

func TestReadCSV_RaggedRows(t *testing.T) {
	_, err := tabular.ReadCSV([]byte("device,comment\nX0\n"))
	assert.Error(t, err)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := tabular.ReadCSV(nil)
	assert.ErrorIs(t, err, tabular.ErrEmpty)
}

func TestReadCSV_InvalidUTF8(t *testing.T) {
	_, err := tabular.ReadCSV([]byte{0xff, 0xfe, 'a'})
	assert.Error(t, err)
}

func TestReadFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"logic_name", "category", "owner"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"MAIN", "Conveyor"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	tbl, err := tabular.ReadFirstSheet(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Len(t, tbl.Rows[0], 3)

	recs := tbl.Records()
	assert.Equal(t, "MAIN", recs[0]["logic_name"])
	assert.Equal(t, "", recs[0]["owner"])
	assert.Equal(t, []string{"device"}, tbl.Missing([]string{"logic_name", "device"}))
}

func TestReadFirstSheet_NotXLSX(t *testing.T) {
	_, err := tabular.ReadFirstSheet([]byte("not a spreadsheet"))
	assert.Error(t, err)
}
