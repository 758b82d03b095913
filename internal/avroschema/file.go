// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package avroschema

import (
	"fmt"
	"os"
	"strings"
)

// readSchemaFile reads schema JSON from a local path, accepting an optional
// file: scheme prefix.
func readSchemaFile(url string) ([]byte, error) {
	path := strings.TrimPrefix(url, "file://")
	path = strings.TrimPrefix(path, "file:")
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema from %s: %w", url, err)
	}
	return body, nil
}
