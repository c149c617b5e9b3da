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

package pg

// UYVY8 is the plain 8-bit packed 4:2:2 format (U,Y0,V,Y1 byte
// order). At 8 bits per sample there is no sub-byte packing, so it is
// byte-identical to the generic RFC 4175 8-bit 4:2:2 packing already
// implemented by Decode/Encode with YUV422BE8 — these are thin named
// wrappers for callers that think in UYVY8 terms.
func EncodeUYVY8(p *Planar) ([]byte, error) {
	return Encode(YUV422BE8, p, 0)
}

// DecodeUYVY8 is the inverse of EncodeUYVY8.
func DecodeUYVY8(data []byte, width, height int) (*Planar, error) {
	return Decode(YUV422BE8, data, width, height, 0)
}
