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

package serviceuser

import (
	"context"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	lldapv1alpha1 "github.com/snapp-incubator/lldap-operator/api/v1alpha1"
	"github.com/snapp-incubator/lldap-operator/internal/controllers/common"
	"github.com/snapp-incubator/lldap-operator/internal/lldap"
	"github.com/snapp-incubator/lldap-operator/internal/passwords"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

var _ = Describe("ServiceUser Controller", func() {
	const (
		serviceUserName      = "ci-bot"
		serviceUserNamespace = "tools"
		preMintedPassword    = "pre-minted-password"
	)
	var (
		username   = fmt.Sprintf("%s.%s", serviceUserName, serviceUserNamespace)
		secretName = serviceUserName + consts.CredentialSecretSuffix
		ctx        = context.Background()
		req        = ctrl.Request{
			NamespacedName: types.NamespacedName{Namespace: serviceUserNamespace, Name: serviceUserName},
		}

		serviceUser *lldapv1alpha1.ServiceUser
		mock        *lldap.MockClient
		recorder    *record.FakeRecorder
		r           *Reconciler
	)

	getServiceUser := func() *lldapv1alpha1.ServiceUser {
		return &lldapv1alpha1.ServiceUser{
			ObjectMeta: metav1.ObjectMeta{
				Name:      serviceUserName,
				Namespace: serviceUserNamespace,
			},
			Spec: lldapv1alpha1.ServiceUserSpec{
				PasswordManager:  true,
				AdditionalGroups: []string{"eng"},
			},
		}
	}

	newReconciler := func(objs ...client.Object) *Reconciler {
		mock = lldap.NewMockClient()
		mock.AddGroup("eng")
		recorder = record.NewFakeRecorder(32)
		fakeClient := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(objs...).
			Build()
		return &Reconciler{
			Client:            fakeClient,
			scheme:            testScheme,
			recorder:          recorder,
			lldapClient:       mock,
			resyncInterval:    time.Hour,
			authRetryInterval: 5 * time.Minute,
		}
	}

	// provision runs the reconciler until the object converges: one pass to
	// commit the cleanup finalizer, one to do the work.
	provision := func() ctrl.Result {
		res, err := r.Reconcile(ctx, req)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, res.Requeue).To(BeTrue())

		res, err = r.Reconcile(ctx, req)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return res
	}

	getCurrent := func() *lldapv1alpha1.ServiceUser {
		current := &lldapv1alpha1.ServiceUser{}
		ExpectWithOffset(1, r.Get(ctx, req.NamespacedName, current)).To(Succeed())
		return current
	}

	getSecret := func() *corev1.Secret {
		secret := &corev1.Secret{}
		ExpectWithOffset(1, r.Get(
			ctx,
			types.NamespacedName{Namespace: serviceUserNamespace, Name: secretName},
			secret,
		)).To(Succeed())
		return secret
	}

	readyCondition := func(su *lldapv1alpha1.ServiceUser) *metav1.Condition {
		return common.GetCondition(su.Status.Conditions, common.TypeReady)
	}

	recordedEvents := func() []string {
		var events []string
		for {
			select {
			case event := <-recorder.Events:
				events = append(events, event)
			default:
				return events
			}
		}
	}

	// expectReleased accepts both behaviors of the fake client once the last
	// finalizer is removed: dropping the object or keeping it finalizer-free.
	expectReleased := func() {
		current := &lldapv1alpha1.ServiceUser{}
		err := r.Get(ctx, req.NamespacedName, current)
		if err != nil {
			ExpectWithOffset(1, apierrors.IsNotFound(err)).To(BeTrue())
			return
		}
		ExpectWithOffset(1, controllerutil.ContainsFinalizer(current, consts.ServiceUserCleanupFinalizer)).To(BeFalse())
	}

	Context("When provisioning a new ServiceUser", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			r = newReconciler(serviceUser)
		})

		It("Should commit the cleanup finalizer before touching the directory", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Requeue).To(BeTrue())

			current := getCurrent()
			Expect(controllerutil.ContainsFinalizer(current, consts.ServiceUserCleanupFinalizer)).To(BeTrue())
			Expect(mock.Calls()).To(BeEmpty())
		})

		It("Should create the directory user with its memberships", func() {
			res := provision()
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			Expect(mock.HasUser(username)).To(BeTrue())
			Expect(mock.UserGroups(username)).To(Equal([]string{"eng", consts.GroupPasswordManager}))
			Expect(recordedEvents()).To(ContainElement(ContainSubstring("Created user '" + username + "'")))
		})

		It("Should mint the credentials secret", func() {
			provision()

			secret := getSecret()
			Expect(secret.Type).To(Equal(corev1.SecretTypeOpaque))
			Expect(string(secret.Data[consts.DataKeyUsername])).To(Equal(username))
			Expect(secret.Data[consts.DataKeyPassword]).To(HaveLen(passwords.Length))
			Expect(mock.Password(username)).To(Equal(string(secret.Data[consts.DataKeyPassword])))

			controllerRef := metav1.GetControllerOf(secret)
			Expect(controllerRef).NotTo(BeNil())
			Expect(controllerRef.Kind).To(Equal("ServiceUser"))
			Expect(controllerRef.Name).To(Equal(serviceUserName))

			Expect(recordedEvents()).To(ContainElement(ContainSubstring("Created secret '" + secretName + "'")))
		})

		It("Should stamp secretCreated and report Ready", func() {
			provision()

			current := getCurrent()
			Expect(current.Status.SecretCreated).NotTo(BeNil())

			ready := readyCondition(current)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Status).To(Equal(metav1.ConditionTrue))
			Expect(ready.Reason).To(Equal(common.ReasonReconcileSuccess))
		})
	})

	Context("When password management is not requested", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			serviceUser.Spec.PasswordManager = false
			r = newReconciler(serviceUser)
		})

		It("Should provision a read-only user without a secret", func() {
			res := provision()
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			Expect(mock.UserGroups(username)).To(Equal([]string{"eng", consts.GroupStrictReadonly}))
			Expect(mock.Password(username)).To(BeEmpty())

			secret := &corev1.Secret{}
			err := r.Get(ctx, types.NamespacedName{Namespace: serviceUserNamespace, Name: secretName}, secret)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			current := getCurrent()
			Expect(current.Status.SecretCreated).To(BeNil())
			Expect(readyCondition(current).Status).To(Equal(metav1.ConditionTrue))
		})
	})

	Context("When nothing has drifted since the last pass", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			r = newReconciler(serviceUser)
			provision()
			mock.ResetCalls()
		})

		It("Should resync with a single read and no mutations", func() {
			stampBefore := getCurrent().Status.SecretCreated

			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			Expect(mock.Calls()).To(Equal([]string{fmt.Sprintf("get_user/%s", username)}))
			Expect(mock.MutationCalls()).To(BeEmpty())
			Expect(getCurrent().Status.SecretCreated.Equal(stampBefore)).To(BeTrue())
		})
	})

	Context("When a new additional group is requested", func() {
		var opsGroup lldap.Group

		BeforeEach(func() {
			serviceUser = getServiceUser()
			r = newReconciler(serviceUser)
			provision()

			opsGroup = mock.AddGroup("ops")
			current := getCurrent()
			current.Spec.AdditionalGroups = append(current.Spec.AdditionalGroups, "ops")
			Expect(r.Update(ctx, current)).To(Succeed())
			mock.ResetCalls()
		})

		It("Should grant only the missing membership", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			Expect(mock.UserGroups(username)).To(Equal([]string{"eng", consts.GroupPasswordManager, "ops"}))
			Expect(mock.MutationCalls()).To(Equal([]string{
				fmt.Sprintf("add_user_to_group/%s:%d", username, opsGroup.ID),
			}))
		})
	})

	Context("When the directory fails transiently", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			serviceUser.Spec.AdditionalGroups = []string{"eng", "ops"}
			r = newReconciler(serviceUser)
			mock.AddGroup("ops")

			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Requeue).To(BeTrue())

			mock.SetError("add_user_to_group", &lldap.StatusError{Endpoint: "/api/graphql", StatusCode: 502})
		})

		It("Should attempt every membership before requeueing with the error", func() {
			_, err := r.Reconcile(ctx, req)
			Expect(err).To(HaveOccurred())

			addCalls := 0
			for _, call := range mock.Calls() {
				if strings.HasPrefix(call, "add_user_to_group/") {
					addCalls++
				}
			}
			Expect(addCalls).To(Equal(3))

			// The credential step is never reached on a failed pass.
			secret := &corev1.Secret{}
			getErr := r.Get(ctx, types.NamespacedName{Namespace: serviceUserNamespace, Name: secretName}, secret)
			Expect(apierrors.IsNotFound(getErr)).To(BeTrue())

			ready := readyCondition(getCurrent())
			Expect(ready).NotTo(BeNil())
			Expect(ready.Status).To(Equal(metav1.ConditionFalse))
			Expect(ready.Reason).To(Equal(common.ReasonReconcileError))
		})

		It("Should converge once the directory recovers", func() {
			_, err := r.Reconcile(ctx, req)
			Expect(err).To(HaveOccurred())

			mock.SetError("add_user_to_group", nil)
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			Expect(mock.UserGroups(username)).To(Equal([]string{"eng", consts.GroupPasswordManager, "ops"}))
			Expect(mock.Password(username)).NotTo(BeEmpty())
			Expect(readyCondition(getCurrent()).Status).To(Equal(metav1.ConditionTrue))
		})
	})

	Context("When a requested group does not exist in the directory", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			serviceUser.Spec.AdditionalGroups = []string{"eng", "analytics"}
			r = newReconciler(serviceUser)

			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Requeue).To(BeTrue())
		})

		It("Should grant the rest and requeue with an error", func() {
			_, err := r.Reconcile(ctx, req)
			Expect(err).To(HaveOccurred())

			Expect(mock.UserGroups(username)).To(Equal([]string{"eng", consts.GroupPasswordManager}))
			Expect(recordedEvents()).To(ContainElement(ContainSubstring("Group 'analytics' does not exist")))
			Expect(readyCondition(getCurrent()).Status).To(Equal(metav1.ConditionFalse))
		})
	})

	Context("When the directory rejects the operator credentials", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			r = newReconciler(serviceUser)

			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Requeue).To(BeTrue())

			mock.SetError("get_user", fmt.Errorf("login: %w", lldap.ErrUnauthorized))
		})

		It("Should back off without consuming workqueue retries", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(5 * time.Minute))

			Expect(mock.MutationCalls()).To(BeEmpty())
			Expect(recordedEvents()).To(ContainElement(ContainSubstring(consts.EventUnauthorized)))

			ready := readyCondition(getCurrent())
			Expect(ready).NotTo(BeNil())
			Expect(ready.Status).To(Equal(metav1.ConditionFalse))
			Expect(ready.Reason).To(Equal(common.ReasonUnauthorized))
		})
	})

	Context("When the spec lists a baseline group", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			serviceUser.Spec.AdditionalGroups = []string{consts.GroupPasswordManager}
			r = newReconciler(serviceUser)

			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Requeue).To(BeTrue())
		})

		It("Should stall without contacting the directory", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsZero()).To(BeTrue())

			Expect(mock.Calls()).To(BeEmpty())
			Expect(recordedEvents()).To(ContainElement(ContainSubstring(consts.BaselineGroupErrMessage)))

			current := getCurrent()
			Expect(readyCondition(current).Status).To(Equal(metav1.ConditionFalse))
			stalled := common.GetCondition(current.Status.Conditions, common.TypeStalled)
			Expect(stalled).NotTo(BeNil())
			Expect(stalled.Status).To(Equal(metav1.ConditionTrue))
			Expect(stalled.Reason).To(Equal(common.ReasonInvalidSpec))
		})
	})

	Context("When the status stamp is missing for an existing secret", func() {
		BeforeEach(func() {
			serviceUser = getServiceUser()
			serviceUser.Finalizers = []string{consts.ServiceUserCleanupFinalizer}
			secret := &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Namespace: serviceUserNamespace,
					Name:      secretName,
				},
				Data: map[string][]byte{
					consts.DataKeyUsername: []byte(username),
					consts.DataKeyPassword: []byte(preMintedPassword),
				},
			}
			r = newReconciler(serviceUser, secret)

			_, err := mock.CreateUser(ctx, username)
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.SetPassword(ctx, username, preMintedPassword)).To(Succeed())
			groups, err := mock.GetGroups(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, group := range groups {
				if group.DisplayName == consts.GroupPasswordManager || group.DisplayName == "eng" {
					Expect(mock.AddUserToGroup(ctx, username, group.ID)).To(Succeed())
				}
			}
			mock.ResetCalls()
		})

		It("Should stamp the status without minting a new credential", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			// The stored password is re-asserted, never regenerated.
			Expect(mock.MutationCalls()).To(Equal([]string{fmt.Sprintf("set_password/%s", username)}))
			Expect(mock.Password(username)).To(Equal(preMintedPassword))
			Expect(string(getSecret().Data[consts.DataKeyPassword])).To(Equal(preMintedPassword))

			current := getCurrent()
			Expect(current.Status.SecretCreated).NotTo(BeNil())
			Expect(readyCondition(current).Status).To(Equal(metav1.ConditionTrue))
		})
	})

	Context("When the credentials secret is deleted", func() {
		var stampBefore *metav1.Time
		var passwordBefore string

		BeforeEach(func() {
			serviceUser = getServiceUser()
			r = newReconciler(serviceUser)
			provision()

			stampBefore = getCurrent().Status.SecretCreated
			passwordBefore = mock.Password(username)
			Expect(r.Delete(ctx, getSecret())).To(Succeed())
			mock.ResetCalls()
		})

		It("Should mint a fresh credential without re-stamping the status", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			secret := getSecret()
			Expect(secret.Data[consts.DataKeyPassword]).To(HaveLen(passwords.Length))
			Expect(string(secret.Data[consts.DataKeyPassword])).NotTo(Equal(passwordBefore))
			Expect(mock.Password(username)).To(Equal(string(secret.Data[consts.DataKeyPassword])))

			Expect(mock.MutationCalls()).To(Equal([]string{fmt.Sprintf("set_password/%s", username)}))
			Expect(getCurrent().Status.SecretCreated.Equal(stampBefore)).To(BeTrue())
		})
	})

	Context("When the directory user vanished behind an existing secret", func() {
		var stampBefore *metav1.Time
		var storedPassword string

		BeforeEach(func() {
			serviceUser = getServiceUser()
			r = newReconciler(serviceUser)
			provision()

			stampBefore = getCurrent().Status.SecretCreated
			storedPassword = string(getSecret().Data[consts.DataKeyPassword])
			Expect(mock.DeleteUser(ctx, username)).To(Succeed())
			mock.ResetCalls()
		})

		It("Should recreate the user and restore the stored password", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequeueAfter).To(Equal(time.Hour))

			Expect(mock.HasUser(username)).To(BeTrue())
			Expect(mock.UserGroups(username)).To(Equal([]string{"eng", consts.GroupPasswordManager}))
			Expect(mock.Password(username)).To(Equal(storedPassword))
			Expect(mock.MutationCalls()).To(ContainElements(
				fmt.Sprintf("create_user/%s", username),
				fmt.Sprintf("set_password/%s", username),
			))

			// The surviving secret and the stamp stay as they were.
			Expect(string(getSecret().Data[consts.DataKeyPassword])).To(Equal(storedPassword))
			Expect(getCurrent().Status.SecretCreated.Equal(stampBefore)).To(BeTrue())
		})
	})

	Context("When a provisioned ServiceUser is deleted", func() {
		BeforeEach(func() {
			now := metav1.NewTime(time.Now())
			serviceUser = getServiceUser()
			serviceUser.Finalizers = []string{consts.ServiceUserCleanupFinalizer}
			serviceUser.DeletionTimestamp = &now
			r = newReconciler(serviceUser)
		})

		It("Should delete the directory user and release the object", func() {
			_, err := mock.CreateUser(ctx, username)
			Expect(err).NotTo(HaveOccurred())
			mock.ResetCalls()

			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsZero()).To(BeTrue())

			Expect(mock.HasUser(username)).To(BeFalse())
			Expect(mock.MutationCalls()).To(Equal([]string{fmt.Sprintf("delete_user/%s", username)}))
			Expect(recordedEvents()).To(ContainElement(ContainSubstring("Deleted user '" + username + "'")))
			expectReleased()
		})

		It("Should treat an already deleted directory user as success", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsZero()).To(BeTrue())

			Expect(recordedEvents()).To(ContainElement(ContainSubstring("User '" + username + "' not found")))
			expectReleased()
		})
	})

	Context("When an unprovisioned ServiceUser is deleted", func() {
		BeforeEach(func() {
			now := metav1.NewTime(time.Now())
			serviceUser = getServiceUser()
			serviceUser.Finalizers = []string{"example.com/other-controller"}
			serviceUser.DeletionTimestamp = &now
			r = newReconciler(serviceUser)
		})

		It("Should not touch the directory", func() {
			res, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsZero()).To(BeTrue())

			Expect(mock.Calls()).To(BeEmpty())

			// Foreign finalizers are left alone.
			current := getCurrent()
			Expect(current.Finalizers).To(Equal([]string{"example.com/other-controller"}))
		})
	})
})
