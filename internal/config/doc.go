// Package config provides configuration types and loading for the edge
// gateway.
//
// Configuration is a single YAML file. Values may reference the
// environment with ${VAR} or ${VAR:-default}; "$$" yields a literal "$".
// After decoding, defaults are applied and the whole document is
// validated, reporting every problem at once:
//
//	cfg, err := config.LoadConfig("configs/gateway.yaml")
//	if err != nil {
//	    var verrs config.ValidationErrors
//	    if errors.As(err, &verrs) {
//	        // one entry per invalid field
//	    }
//	}
//
// The route table is declared under "routes" and is immutable once the
// process has started.
package config
