// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime rule set. It uses the Go
embed package to bake framework_policy.yaml directly into the compiled binary,
so the isolation rules are immutable at runtime and travel with the executable.
*/

package compliance

import (
	_ "embed"
)

// FrameworkPolicyYAML holds the raw byte content of the 'framework_policy.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive. By baking
// the YAML directly into the binary, the tenant-isolation rules cannot be tampered
// with on the host filesystem without recompiling the application.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(compliance.FrameworkPolicyYAML, &targetStruct)
//
//go:embed framework_policy.yaml
var FrameworkPolicyYAML []byte
