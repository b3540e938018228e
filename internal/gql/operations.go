// Package gql wraps the fixed catalog of persisted-query GraphQL operations
// the core consumes, and a client issuing single or batched requests
// through it.
package gql

// URL is the persisted-query GraphQL endpoint. A var, not a const, so tests
// can point it at a local server.
var URL = "https://gql.twitch.tv/gql"

// Operation is one persisted-query call: a name, its hash, and whatever
// variables the caller fills in before sending.
type Operation struct {
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    extensions             `json:"extensions"`
}

type extensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

func newOperation(name, hash string) Operation {
	return Operation{
		OperationName: name,
		Extensions:    extensions{PersistedQuery: persistedQuery{Version: 1, Sha256Hash: hash}},
	}
}

// WithVariables returns a copy of op with variables merged in, leaving the
// original untouched so the catalog entries stay reusable templates.
func (op Operation) WithVariables(vars map[string]interface{}) Operation {
	merged := make(map[string]interface{}, len(op.Variables)+len(vars))
	for k, v := range op.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	op.Variables = merged
	return op
}

// Operations is the fixed catalog consumed by the core.
var Operations = struct {
	Inventory             Operation
	Campaigns             Operation
	CampaignDetails       Operation
	GetStreamInfo         Operation
	CurrentDrop           Operation
	GameDirectory         Operation
	ClaimDrop             Operation
	ClaimCommunityPoints  Operation
}{
	Inventory: newOperation("Inventory", "27f074f54ff74e0b05c8244ef2667180c2f911255e589ccd693a1a52ccca7367"),
	Campaigns: newOperation("ViewerDropsDashboard", "e8b98b52bbd7ccd37d0b671ad0d47be5238caa5bea637d2a65776175b4a23a64"),
	CampaignDetails: newOperation("DropCampaignDetails", "f6396f5ffdde867a8f6f6da18286e4baf02e5b98d14689a69b5af320a4c7b7b8"),
	GetStreamInfo: newOperation("VideoPlayerStreamInfoOverlayChannel", "a5f2e34d626a9f4f5c0204f910bab2194948a9502089be558bb6e779a9e1b3d2"),
	CurrentDrop: newOperation("DropCurrentSessionContext", "2e4b3630b91552eb05b76a94b6850eb25fe42263b7cf6d06bee6d156dd247c1c"),
	GameDirectory: newOperation("DirectoryPage_Game", "d5c5df7ab9ae65c3ea0f225738c08a36a4a76e4c6c31db7f8c4b8dc064227f9e"),
	ClaimDrop: newOperation("DropsPage_ClaimDropRewards", "2f884fa187b8fadb2a49db0adc033e636f7b6aaee6e76de1e2bba9a7baf0daf6"),
	ClaimCommunityPoints: newOperation("ClaimCommunityPoints", "46aaeebe02c99afdf4fc97c7c0cba964124bf6b0af229395f1f6d1feed05b3d0"),
}

// CampaignDetailsVars builds the variables for CampaignDetails.
func CampaignDetailsVars(channelLogin, dropID string) map[string]interface{} {
	return map[string]interface{}{"channelLogin": channelLogin, "dropID": dropID}
}

// GetStreamInfoVars builds the variables for GetStreamInfo.
func GetStreamInfoVars(channelLogin string) map[string]interface{} {
	return map[string]interface{}{"channel": channelLogin}
}

// GameDirectoryVars builds the variables for GameDirectory, restricting
// results to drops-enabled streams per the DROPS_ENABLED tag.
func GameDirectoryVars(gameName string, limit int, dropsEnabledTag string) map[string]interface{} {
	return map[string]interface{}{
		"limit": limit,
		"name":  gameName,
		"options": map[string]interface{}{
			"includeRestricted":      []string{"SUB_ONLY_LIVE"},
			"recommendationsContext": map[string]interface{}{"platform": "web"},
			"sort":                   "RELEVANCE",
			"tags":                   []string{dropsEnabledTag},
		},
		"sortTypeIsRecency": false,
	}
}

// ClaimDropVars builds the variables for ClaimDrop.
func ClaimDropVars(dropInstanceID string) map[string]interface{} {
	return map[string]interface{}{"input": map[string]interface{}{"dropInstanceID": dropInstanceID}}
}

// ClaimCommunityPointsVars builds the variables for ClaimCommunityPoints.
func ClaimCommunityPointsVars(channelID, claimID string) map[string]interface{} {
	return map[string]interface{}{"input": map[string]interface{}{"claimID": claimID, "channelID": channelID}}
}
