package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords(t *testing.T) {
	input := "\ufeffPayment ID, Amount ,Amount,\n" +
		"P1,10.5,99,x\n" +
		"\n" +
		"P2,,,\n" +
		"P3,\"1,200\"\n"

	src, _ := WrapSource(strings.NewReader(input))
	records, cols, err := ReadRecords(context.Background(), src, "payments", "data/payments.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"payment_id", "amount", "column_4"}, cols)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "payments.csv:2", first.ID())
	v, _ := first.Get("amount")
	assert.Equal(t, "10.5", v, "first of repeated headers wins")

	second := records[1]
	assert.Equal(t, 4, second.Line, "blank lines still count")
	v, ok := second.Get("amount")
	assert.True(t, ok)
	assert.Nil(t, v, "empty cell becomes null")

	third := records[2]
	v, _ = third.Get("amount")
	assert.Equal(t, "1,200", v)
	v, ok = third.Get("column_4")
	assert.True(t, ok, "short rows still carry every column")
	assert.Nil(t, v)
}

func TestReadRecords_PunctuatedHeaders(t *testing.T) {
	input := "id,Rate (%),rate,Notes!!,notes!!\n1,5,6,a,b\n"

	records, cols, err := ReadRecords(context.Background(), strings.NewReader(input), "payments", "payments.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "rate", "rate_3", "notes"}, cols)
	require.Len(t, records, 1)

	v, _ := records[0].Get("rate")
	assert.Equal(t, "5", v)
	v, _ = records[0].Get("rate_3")
	assert.Equal(t, "6", v, "a header that only matches after cleanup keeps its own column")
	v, _ = records[0].Get("notes")
	assert.Equal(t, "a", v, "a true repeat keeps the first cell")
}

func TestReadRecords_Empty(t *testing.T) {
	records, cols, err := ReadRecords(context.Background(), strings.NewReader(""), "payments", "payments.csv")
	require.NoError(t, err)
	assert.Nil(t, records)
	assert.Nil(t, cols)
}

func TestIngestTable(t *testing.T) {
	dataDir := t.TempDir()
	writeDrop(t, dataDir, "2024-01-15", map[string]string{
		"payments.csv": "payment_id,amount\nP1,1\nP2,2\n",
	})

	def := paymentsDef()
	def.Info.FileName = "payments.csv"
	res, err := IngestTable(context.Background(), dataDir, "2024-01-15", def)
	require.NoError(t, err)
	assert.False(t, res.Missing)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, int64(len("payment_id,amount\nP1,1\nP2,2\n")), res.Bytes)

	def.Info.FileName = "accounts.csv"
	res, err = IngestTable(context.Background(), dataDir, "2024-01-15", def)
	require.NoError(t, err)
	assert.True(t, res.Missing)
	assert.Empty(t, res.Records)
}
