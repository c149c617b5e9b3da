/*
Copyright (c) st2110go contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transport

import "github.com/st2110go/mtl/epoch"

// SystemClock adapts epoch.SystemClock to the Clock collaborator
// interface. A production deployment wires a PHC-disciplined clock
// in its place; this module's session logic only ever depends on the
// Clock interface, never on a concrete source.
type SystemClock struct {
	inner epoch.SystemClock
}

// PTPTaiNS implements Clock.
func (c SystemClock) PTPTaiNS() uint64 {
	return c.inner.NowTAI()
}
