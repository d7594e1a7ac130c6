package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blockfrost/blockfrost-go"

	"github.com/walletscore/jobgate/internal/models"
)

const (
	MainnetURL = "https://cardano-mainnet.blockfrost.io/api/v0"
	PreprodURL = "https://cardano-preprod.blockfrost.io/api/v0"

	lovelacePerADA = 1_000_000
	maxTopTokens   = 5
	policyIDLen    = 56
	fetchTimeout   = 15 * time.Second
)

// Blockfrost reads address facts from the Blockfrost indexer through the
// official SDK, with one client per network.
type Blockfrost struct {
	projectID string
	baseURLs  map[string]string
	clients   map[string]blockfrost.APIClient
	timeout   time.Duration
	now       func() time.Time
}

// BlockfrostOption configures a Blockfrost source.
type BlockfrostOption func(*Blockfrost)

// WithBaseURL points every network at url.
func WithBaseURL(u string) BlockfrostOption {
	return func(b *Blockfrost) {
		u = strings.TrimRight(u, "/")
		b.baseURLs = map[string]string{models.NetworkMainnet: u, models.NetworkPreprod: u}
	}
}

// WithNow overrides the clock used to compute address age.
func WithNow(now func() time.Time) BlockfrostOption {
	return func(b *Blockfrost) { b.now = now }
}

// NewBlockfrost creates a source authenticated with projectID.
func NewBlockfrost(projectID string, opts ...BlockfrostOption) *Blockfrost {
	b := &Blockfrost{
		projectID: projectID,
		baseURLs: map[string]string{
			models.NetworkMainnet: MainnetURL,
			models.NetworkPreprod: PreprodURL,
		},
		timeout: fetchTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.clients = make(map[string]blockfrost.APIClient, len(b.baseURLs))
	for network, server := range b.baseURLs {
		b.clients[network] = blockfrost.NewAPIClient(blockfrost.APIClientOptions{
			ProjectID: projectID,
			Server:    server,
		})
	}
	return b
}

type addressInfo struct {
	Amount []struct {
		Unit     string `json:"unit"`
		Quantity string `json:"quantity"`
	} `json:"amount"`
	StakeAddress *string `json:"stake_address"`
}

type accountInfo struct {
	PoolID *string `json:"pool_id"`
}

type addressTx struct {
	BlockTime int64 `json:"block_time"`
}

// Fetch reads balances, staking and first-seen time for in.Address. Staking
// and first-seen reads are best effort; only the address read is required.
func (b *Blockfrost) Fetch(ctx context.Context, in models.Input) (models.Facts, error) {
	client, ok := b.clients[in.Network]
	if !ok {
		client = b.clients[models.NetworkMainnet]
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rawAddr, err := client.Address(ctx, in.Address)
	if err != nil {
		return models.Facts{}, fmt.Errorf("blockfrost address: %w", err)
	}
	var addr addressInfo
	if err := asView(rawAddr, &addr); err != nil {
		return models.Facts{}, fmt.Errorf("blockfrost address: %w", err)
	}

	var facts models.Facts
	tokens := make([]models.Token, 0)
	for _, amt := range addr.Amount {
		qty, _ := strconv.ParseFloat(amt.Quantity, 64)
		if amt.Unit == "lovelace" {
			facts.Balances.ADA = qty / lovelacePerADA
			continue
		}
		policy := amt.Unit
		if len(policy) > policyIDLen {
			policy = policy[:policyIDLen]
		}
		tokens = append(tokens, models.Token{Asset: amt.Unit, Policy: policy, Qty: strconv.FormatInt(int64(qty), 10)})
	}
	facts.Balances.TokenCount = len(tokens)
	if len(tokens) > maxTopTokens {
		tokens = tokens[:maxTopTokens]
	}
	facts.TopTokens = tokens

	if addr.StakeAddress != nil && *addr.StakeAddress != "" {
		var acct accountInfo
		if rawAcct, err := client.Account(ctx, *addr.StakeAddress); err == nil && asView(rawAcct, &acct) == nil && acct.PoolID != nil {
			facts.Staking.Delegated = true
			facts.Staking.PoolID = acct.PoolID
		}
	}

	var txs []addressTx
	rawTxs, err := client.AddressTransactions(ctx, in.Address, blockfrost.APIQueryParams{Count: 1, Page: 1, Order: "asc"})
	if err == nil && asView(rawTxs, &txs) == nil && len(txs) > 0 && txs[0].BlockTime > 0 {
		seen := time.Unix(txs[0].BlockTime, 0).UTC()
		s := seen.Format("2006-01-02")
		facts.FirstSeen = &s
		facts.AgeDays = int(b.now().Sub(seen).Hours() / 24)
	}

	return facts, nil
}

// asView copies an SDK response into the narrower struct this package reads.
func asView(src, dst interface{}) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
