/*
Copyright 2023.

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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ServiceUserSpec defines the desired state of ServiceUser
type ServiceUserSpec struct {
	// PasswordManager grants the password-manager baseline group and enables
	// credential generation into a companion secret.
	// +optional
	PasswordManager bool `json:"passwordManager,omitempty"`

	// AdditionalGroups lists directory groups, by display name, the user is
	// added to on top of its baseline group.
	// +optional
	AdditionalGroups []string `json:"additionalGroups,omitempty"`
}

// ServiceUserStatus defines the observed state of ServiceUser
type ServiceUserStatus struct {
	// SecretCreated records when the credential secret was first committed.
	// It is set exactly once and never cleared.
	// +optional
	SecretCreated *metav1.Time `json:"secretCreated,omitempty"`

	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:resource:shortName=lsu
//+kubebuilder:printcolumn:name="Password Manager",type=boolean,JSONPath=`.spec.passwordManager`
//+kubebuilder:printcolumn:name="Secret Created",type=date,JSONPath=`.status.secretCreated`
//+kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// ServiceUser is the Schema for the serviceusers API
type ServiceUser struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ServiceUserSpec   `json:"spec,omitempty"`
	Status ServiceUserStatus `json:"status,omitempty"`
}

// Username returns the directory user id. The namespace is embedded so
// same-named resources in different namespaces map to distinct users.
func (su *ServiceUser) Username() string {
	return su.Name + "." + su.Namespace
}

//+kubebuilder:object:root=true

// ServiceUserList contains a list of ServiceUser
type ServiceUserList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ServiceUser `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ServiceUser{}, &ServiceUserList{})
}
