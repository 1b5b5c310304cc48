package transfer

import (
	"encoding/json"
	"strings"
)

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string                       `json:"Effect"`
	Action    []string                     `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

// BuildPolicy returns a session policy scoping a user to folders within
// bucket: object read/write/delete under each folder and listing of each
// folder prefix. It returns "" when folders is empty.
func BuildPolicy(bucket string, folders []string) (string, error) {
	doc := policyDocument{Version: "2012-10-17"}
	for _, f := range folders {
		f = strings.Trim(strings.TrimSpace(f), "/")
		if f == "" {
			continue
		}
		doc.Statement = append(doc.Statement,
			policyStatement{
				Effect:   "Allow",
				Action:   []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject"},
				Resource: "arn:aws:s3:::" + bucket + "/" + f + "/*",
			},
			policyStatement{
				Effect:   "Allow",
				Action:   []string{"s3:ListBucket"},
				Resource: "arn:aws:s3:::" + bucket,
				Condition: map[string]map[string]string{
					"StringLike": {"s3:prefix": f + "/*"},
				},
			},
		)
	}
	if len(doc.Statement) == 0 {
		return "", nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
