package access

import (
	"encoding/json"
	"fmt"
)

const policyVersion = "2012-10-17"

// PolicyDocument is an IAM policy or trust policy.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

type Statement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal,omitempty"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource,omitempty"`
}

// JSON returns the document as IAM expects it in API calls.
func (d PolicyDocument) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode policy document: %w", err)
	}
	return string(data), nil
}

// AccountRootTrust lets any principal of the account assume the role.
func AccountRootTrust(accountID string) PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{{
			Effect:    "Allow",
			Principal: map[string]string{"AWS": fmt.Sprintf("arn:aws:iam::%s:root", accountID)},
			Action:    []string{"sts:AssumeRole"},
		}},
	}
}

// ListAndGetPolicy grants read-only listing and download on every bucket.
func ListAndGetPolicy() PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{{
			Effect:   "Allow",
			Action:   []string{"s3:ListAllMyBuckets", "s3:ListBucket", "s3:GetObject"},
			Resource: []string{"*"},
		}},
	}
}

// AssumeRolesPolicy allows assuming exactly the given roles.
func AssumeRolesPolicy(roleARNs ...string) PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{{
			Effect:   "Allow",
			Action:   []string{"sts:AssumeRole"},
			Resource: roleARNs,
		}},
	}
}

// RoleARN builds the ARN of a role in the given account.
func RoleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}
