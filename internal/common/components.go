package common

const (
	ComponentFetcher      = "fetcher"
	ComponentChainManager = "chain-manager"
	ComponentStore        = "store"
	ComponentRuntime      = "runtime"
	ComponentCommit       = "commit"
	ComponentRegistry     = "registry"
	ComponentMaintenance  = "maintenance"
	ComponentAPI          = "api"
)

var AllComponents = map[string]struct{}{
	ComponentFetcher:      {},
	ComponentChainManager: {},
	ComponentStore:        {},
	ComponentRuntime:      {},
	ComponentCommit:       {},
	ComponentRegistry:     {},
	ComponentMaintenance:  {},
	ComponentAPI:          {},
}
