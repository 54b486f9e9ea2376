package agent

// sqlite models

type Height struct {
	Id     uint64 `gorm:"primaryKey" json:"id"`
	Height uint64 `json:"height"`
}

// Point is the indexed projection of a registry record. Addresses and
// hashes are stored in hex.
type Point struct {
	Id              uint32 `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Size            string `gorm:"index" json:"size"`
	Prefix          uint32 `gorm:"index" json:"prefix"`
	Owner           string `gorm:"index" json:"owner"`
	Active          bool   `json:"active"`
	Sponsor         uint32 `gorm:"index" json:"sponsor"`
	HasSponsor      bool   `json:"has_sponsor"`
	EscapeRequested bool   `json:"escape_requested"`
	EscapeTo        uint32 `json:"escape_to"`
	Crypt           string `json:"crypt"`
	Auth            string `json:"auth"`
	Suite           uint32 `json:"suite"`
	KeyRevision     uint32 `json:"key_revision"`
	Continuity      uint32 `json:"continuity"`
	ManagementProxy string `json:"management_proxy"`
	VotingProxy     string `json:"voting_proxy"`
	SpawnProxy      string `json:"spawn_proxy"`
	TransferProxy   string `json:"transfer_proxy"`
	UpdatedHeight   uint64 `json:"updated_height"`
}

// Poll is keyed by kind and subject; a restarted poll reuses its row.
type Poll struct {
	Id             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind           string `gorm:"uniqueIndex:idx_poll_subject" json:"kind"`
	Subject        string `gorm:"uniqueIndex:idx_poll_subject" json:"subject"`
	StartedHeight  uint64 `json:"started_height"`
	Starts         uint64 `json:"starts"`
	Majority       bool   `json:"majority"`
	MajorityHeight uint64 `json:"majority_height"`
}

type Upgrade struct {
	Id     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	From   string `json:"from"`
	To     string `gorm:"index" json:"to"`
	Height uint64 `json:"height"`
}
