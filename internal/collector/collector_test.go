package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roleaudit/internal/config"
	"roleaudit/internal/registry"
	"roleaudit/pkg/models"
)

const (
	testAdminRoleHash = "0x0000000000000000000000000000000000000000000000000000000000000000"
	testMaintainer    = "0x339759585899103d2ace64958e37e18ccb0504652c81d4a1b8aa80fe2126ab95"
)

func testRegistries() *registry.Set {
	return &registry.Set{
		Addresses: registry.NewStaticAddressBook(map[string]registry.KnownAddress{
			"0x1111111111111111111111111111111111111111": {Label: "Ops Multisig"},
		}),
		Roles: registry.NewStaticRoleBook(map[string]string{
			testAdminRoleHash: "DEFAULT_ADMIN_ROLE",
		}),
		Contracts: registry.NewStaticContractBook(nil),
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestCollector(explorerURL string) *Collector {
	cfg := &config.NetworkConfig{
		ChainID:        "14800",
		ExplorerAPIURL: explorerURL,
	}
	return NewCollector("moksha", cfg, testRegistries(), testLogger())
}

func grantedLogJSON(topics []string, blockNumber string) string {
	body := `{"address":"0xc0ffee254729296a45a3885639ac7e10f9d54979","topics":[`
	for i, t := range topics {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf("%q", t)
	}
	body += fmt.Sprintf(`],"data":"0x","blockNumber":%q,"timeStamp":"0x66a1b2c3","logIndex":"0x2","transactionHash":"0xabc123"}`, blockNumber)
	return body
}

func TestParseHexUint(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{"0x10", 16, false},
		{"0X1f", 31, false},
		{"42", 42, false},
		{"0x0", 0, false},
		{"", 0, true},
		{"0xzz", 0, true},
	}

	for _, tt := range tests {
		got, err := parseHexUint(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "输入: %s", tt.input)
			continue
		}
		require.NoError(t, err, "输入: %s", tt.input)
		assert.Equal(t, tt.expected, got, "输入: %s", tt.input)
	}
}

func TestParseLogExtractsAddressesFromPaddedTopics(t *testing.T) {
	c := newTestCollector("http://unused")
	contract := registry.ContractInfo{Name: "DataRegistry", Address: "0xc0ffee254729296a45a3885639ac7e10f9d54979"}

	raw := &explorerLog{
		Topics: []string{
			RoleGrantedTopic.Hex(),
			testAdminRoleHash,
			"0x0000000000000000000000001111111111111111111111111111111111111111",
			"0x0000000000000000000000002222222222222222222222222222222222222222",
		},
		BlockNumber:     "0x64",
		TimeStamp:       "0x66a1b2c3",
		LogIndex:        "0x5",
		TransactionHash: "0xdeadbeef",
	}

	entry, err := c.parseLog(raw, contract, models.ActionGranted)
	require.NoError(t, err)

	assert.Equal(t, models.ActionGranted, entry.Action)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", entry.Address)
	assert.Equal(t, "Ops Multisig", entry.AddressLabel)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", entry.Sender)
	assert.Equal(t, "Unknown", entry.SenderLabel)
	assert.Equal(t, "DEFAULT_ADMIN_ROLE", entry.RoleName)
	assert.Equal(t, uint64(100), entry.BlockNumber)
	assert.Equal(t, uint64(5), entry.LogIndex)
	assert.Equal(t, time.Unix(0x66a1b2c3, 0).UTC(), entry.Timestamp)
}

func TestParseLogUnknownRoleFallsBackToHash(t *testing.T) {
	c := newTestCollector("http://unused")
	contract := registry.ContractInfo{Name: "TeePool", Address: "0xc0ffee254729296a45a3885639ac7e10f9d54979"}

	raw := &explorerLog{
		Topics: []string{
			RoleGrantedTopic.Hex(),
			testMaintainer,
			"0x0000000000000000000000003333333333333333333333333333333333333333",
			"0x0000000000000000000000001111111111111111111111111111111111111111",
		},
		BlockNumber: "0x1",
		TimeStamp:   "0x1",
		LogIndex:    "0x0",
	}

	entry, err := c.parseLog(raw, contract, models.ActionRevoked)
	require.NoError(t, err)
	assert.Equal(t, testMaintainer, entry.RoleName)
}

func TestParseLogRejectsMissingTopics(t *testing.T) {
	c := newTestCollector("http://unused")
	contract := registry.ContractInfo{Name: "TeePool", Address: "0xc0ffee254729296a45a3885639ac7e10f9d54979"}

	raw := &explorerLog{
		Topics:      []string{RoleGrantedTopic.Hex(), testAdminRoleHash},
		BlockNumber: "0x1",
		TimeStamp:   "0x1",
		LogIndex:    "0x0",
	}

	_, err := c.parseLog(raw, contract, models.ActionGranted)
	assert.Error(t, err)
}

func TestFetchRoleEventsMergesAndSortsByBlockDescending(t *testing.T) {
	topics := func(account string) []string {
		return []string{
			RoleGrantedTopic.Hex(),
			testAdminRoleHash,
			account,
			"0x0000000000000000000000001111111111111111111111111111111111111111",
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic0 := r.URL.Query().Get("topic0")
		switch topic0 {
		case RoleGrantedTopic.Hex():
			fmt.Fprintf(w, `{"status":"1","message":"OK","result":[%s,%s]}`,
				grantedLogJSON(topics("0x0000000000000000000000003333333333333333333333333333333333333333"), "0xa"),
				grantedLogJSON(topics("0x0000000000000000000000004444444444444444444444444444444444444444"), "0x64"),
			)
		case RoleRevokedTopic.Hex():
			fmt.Fprint(w, `{"status":"0","message":"No records found","result":[]}`)
		default:
			http.Error(w, "unexpected topic0", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	c := newTestCollector(server.URL)
	contracts := []registry.ContractInfo{
		{Name: "DataRegistry", Address: "0xc0ffee254729296a45a3885639ac7e10f9d54979"},
	}

	history, err := c.FetchRoleEvents(context.Background(), contracts)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// 区块号降序
	assert.Equal(t, uint64(100), history[0].BlockNumber)
	assert.Equal(t, uint64(10), history[1].BlockNumber)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", history[0].Address)
}

func TestFetchRoleEventsDegradesFailedBranch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if address == "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("topic0") == RoleGrantedTopic.Hex() {
			fmt.Fprintf(w, `{"status":"1","message":"OK","result":[%s]}`,
				grantedLogJSON([]string{
					RoleGrantedTopic.Hex(),
					testAdminRoleHash,
					"0x0000000000000000000000003333333333333333333333333333333333333333",
					"0x0000000000000000000000001111111111111111111111111111111111111111",
				}, "0x5"))
			return
		}
		fmt.Fprint(w, `{"status":"0","message":"No records found","result":[]}`)
	}))
	defer server.Close()

	c := newTestCollector(server.URL)
	contracts := []registry.ContractInfo{
		{Name: "DataRegistry", Address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{Name: "Broken", Address: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
	}

	// 单个合约的查询失败不影响其他合约的采集结果
	history, err := c.FetchRoleEvents(context.Background(), contracts)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "DataRegistry", history[0].ContractName)
}

func TestFetchRoleEventsSkipsMalformedRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("topic0") == RoleGrantedTopic.Hex() {
			fmt.Fprintf(w, `{"status":"1","message":"OK","result":[%s,%s]}`,
				// topic不足的畸形记录
				`{"address":"0xc0ffee254729296a45a3885639ac7e10f9d54979","topics":["0xabc"],"data":"0x","blockNumber":"0x1","timeStamp":"0x1","logIndex":"0x0","transactionHash":"0xbad"}`,
				grantedLogJSON([]string{
					RoleGrantedTopic.Hex(),
					testAdminRoleHash,
					"0x0000000000000000000000003333333333333333333333333333333333333333",
					"0x0000000000000000000000001111111111111111111111111111111111111111",
				}, "0x2"))
			return
		}
		fmt.Fprint(w, `{"status":"0","message":"No records found","result":[]}`)
	}))
	defer server.Close()

	c := newTestCollector(server.URL)
	contracts := []registry.ContractInfo{
		{Name: "DataRegistry", Address: "0xc0ffee254729296a45a3885639ac7e10f9d54979"},
	}

	history, err := c.FetchRoleEvents(context.Background(), contracts)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "0xabc123", history[0].TransactionHash)
	assert.Equal(t, uint64(2), history[0].BlockNumber)
}

func TestIsNoRecordsMessage(t *testing.T) {
	assert.True(t, isNoRecordsMessage("No records found"))
	assert.True(t, isNoRecordsMessage("no logs found"))
	assert.False(t, isNoRecordsMessage("Max rate limit reached"))
}
