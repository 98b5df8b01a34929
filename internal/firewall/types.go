package firewall

// IndexStatus is the outcome of an index lookup for a package
type IndexStatus string

const (
	IndexExists   IndexStatus = "exists"
	IndexNotFound IndexStatus = "not_found"
	IndexBlocked  IndexStatus = "index_blocked"
)

// AllVersions is the wildcard entry meaning every version is blocked
const AllVersions = "*"

// BlockRecord is the firewall's explanation of which versions of a package
// are forbidden and why. A nil *BlockRecord means the package has no record.
type BlockRecord struct {
	Package         string   `json:"package"`
	BlockedVersions []string `json:"blocked_versions"`
	BlockedCount    int      `json:"blocked_count"`
	Reasons         []string `json:"reasons"`
}

// BlocksAll reports whether the record carries the all-versions wildcard
func (r *BlockRecord) BlocksAll() bool {
	for _, v := range r.BlockedVersions {
		if v == AllVersions {
			return true
		}
	}
	return false
}

// Blocks reports whether the exact version string is listed
func (r *BlockRecord) Blocks(version string) bool {
	for _, v := range r.BlockedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// blockPayload mirrors the /blocked/{package} body. blocked_versions is a
// count on current firewalls and a list on older ones.
type blockPayload struct {
	Package             string   `mapstructure:"package"`
	Status              string   `mapstructure:"status"`
	BlockedVersions     any      `mapstructure:"blocked_versions"`
	BlockedVersionsList []string `mapstructure:"blocked_versions_list"`
	Reasons             []string `mapstructure:"reasons"`
}
