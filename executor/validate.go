package executor

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// argSchemas registers a JSON Schema per command kind, keeping malformed
// commands out of the replicated log entirely instead of letting them
// surface as executor errors after replication.
var argSchemas = map[string]*gojsonschema.Schema{}

func init() {
	schemas := map[string]string{
		KindNewUser: `{
			"type": "object",
			"required": ["username", "password"],
			"properties": {
				"username": {"type": "string", "minLength": 1},
				"password": {"type": "string", "minLength": 1}
			}
		}`,
		KindNewAuction: `{
			"type": "object",
			"required": ["user", "startDate", "objName", "objDesc", "startPrice"],
			"properties": {
				"user": {"type": "string", "minLength": 1},
				"startDate": {"type": "integer"},
				"objName": {"type": "string", "minLength": 1},
				"objDesc": {"type": "string"},
				"startPrice": {"type": "integer", "minimum": 0}
			}
		}`,
		KindNewBid: `{
			"type": "object",
			"required": ["user", "auctionId", "value"],
			"properties": {
				"user": {"type": "string", "minLength": 1},
				"auctionId": {"type": "string", "minLength": 1},
				"value": {"type": "integer", "minimum": 0}
			}
		}`,
		KindCloseAuction: `{
			"type": "object",
			"required": ["auctionId", "closingDate"],
			"properties": {
				"auctionId": {"type": "string", "minLength": 1},
				"closingDate": {"type": "integer"}
			}
		}`,
	}

	for kind, schemaStr := range schemas {
		loader := gojsonschema.NewStringLoader(schemaStr)
		schema, err := gojsonschema.NewSchema(loader)
		if err != nil {
			panic(fmt.Sprintf("executor: invalid built-in schema for %s: %v", kind, err))
		}
		argSchemas[kind] = schema
	}
}

// ValidateArgs checks args against the registered schema for kind. Unknown
// kinds fail validation — the executor only ever sees kinds the client
// submission path has already vetted.
func ValidateArgs(kind string, args []byte) error {
	schema, ok := argSchemas[kind]
	if !ok {
		return fmt.Errorf("executor: unknown command kind %q", kind)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("executor: validate %s args: %w", kind, err)
	}
	if !result.Valid() {
		return fmt.Errorf("executor: %s args invalid: %s", kind, result.Errors()[0])
	}
	return nil
}
