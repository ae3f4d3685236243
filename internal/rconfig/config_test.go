package rconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytesDecodesTopLevelAndBlocks(t *testing.T) {
	doc := `
router_addr = "1.0"
listen_addr = "0.0.0.0:1234"
leaf_lo     = 100
leaf_hi     = 199

interface "1" {
  local_ip     = "10.0.0.1"
  max_bit_rate = 500000
  max_pkt_rate = 500000
}

link "1" {
  iface     = 1
  peer_ip   = "10.0.0.2"
  peer_port = 1234
  peer_type = "router"
}

link "2" {
  iface     = 1
  peer_ip   = "10.0.0.3"
  peer_port = 5678
  peer_type = "client"
  peer_addr = 65536

  rate_spec {
    bit_rate_up = 2000
  }
}

comtree "100" {
  member_links = [1, 2]
  core_links   = [1]
}

route {
  comtree = 100
  dest    = 65536
  links   = [2]
}
`
	cfg, err := LoadBytes([]byte(doc), "test.hcl")
	require.NoError(t, err)
	assert.Equal(t, "1.0", cfg.RouterAddr)
	assert.Equal(t, "0.0.0.0:1234", cfg.ListenAddr)

	require.Len(t, cfg.Interfaces, 1)
	assert.Equal(t, 1, cfg.Interfaces[0].Num)

	require.Len(t, cfg.Links, 2)
	require.NotNil(t, cfg.Links[1].RateSpec)
	assert.Equal(t, int64(2000), cfg.Links[1].RateSpec.BitRateUp)

	require.Len(t, cfg.Comtrees, 1)
	assert.Len(t, cfg.Comtrees[0].MemberLinks, 2)

	require.Len(t, cfg.Routes, 1)
	assert.EqualValues(t, 65536, cfg.Routes[0].Dest)
}

func TestParseForestAddr(t *testing.T) {
	a, err := ParseForestAddr("3.7")
	require.NoError(t, err)
	assert.EqualValues(t, 3, a.Zip())
	assert.EqualValues(t, 7, a.Local())

	_, err = ParseForestAddr("bogus")
	assert.Error(t, err)
}

func TestParsePeerType(t *testing.T) {
	_, err := parsePeerType("bogus")
	assert.Error(t, err)

	pt, err := parsePeerType("Client")
	require.NoError(t, err)
	assert.NotZero(t, pt)
}
